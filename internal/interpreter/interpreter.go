// Package interpreter executes one ParsedCommand against a Process at a
// time. It is always invoked while the caller holds the scheduler's
// lock: it performs no I/O and never blocks. Grounded on
// original_source/src/core/Scheduler.cpp's executeSingleCommand, in the
// teacher's small-stateless-function style (emu/cpu/cpu.go: a decode
// switch operating on shared state passed in by the caller).
package interpreter

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/coresim/coresim/internal/memory"
	"github.com/coresim/coresim/internal/process"
)

// ExecuteOne fetches and runs the instruction at process.IP against p,
// running on core coreID at simulated tick currentTick. It returns false
// iff p must stop occupying its core (it terminated or entered SLEEP);
// true means the caller may immediately dispatch another instruction to
// p. frameBytes is the backing-store/page frame width, used to translate
// a word address into a page number for WRITE/READ.
func ExecuteOne(p *process.Process, coreID int, currentTick int64, alloc memory.Allocator, frameBytes int) bool {
	cmd, ok := p.NextCommand()
	if !ok {
		terminate(p, currentTick, alloc, "reached end of program")
		return false
	}

	switch cmd.Type {
	case process.Print:
		msg := resolvePrintMessage(p, cmd.Args)
		p.AddLog(fmt.Sprintf("PRINT %s", msg))
		return true

	case process.Declare:
		name := cmd.Args[0]
		val := parseLiteral(cmd.Args[1])
		p.Declare(name, val)
		p.AddLog(fmt.Sprintf("DECLARE %s = %d", name, val))
		return true

	case process.Add:
		dst, a, b := cmd.Args[0], cmd.Args[1], cmd.Args[2]
		va := resolveOperand(p, a)
		vb := resolveOperand(p, b)
		result := va + vb
		p.Declare(dst, result)
		p.AddLog(fmt.Sprintf("ADD %s = %s(%d) + %s(%d) => %s(%d)", dst, a, va, b, vb, dst, result))
		return true

	case process.Subtract:
		dst, a, b := cmd.Args[0], cmd.Args[1], cmd.Args[2]
		va := resolveOperand(p, a)
		vb := resolveOperand(p, b)
		result := va - vb
		p.Declare(dst, result)
		p.AddLog(fmt.Sprintf("SUBTRACT %s = %s(%d) - %s(%d) => %s(%d)", dst, a, va, b, vb, dst, result))
		return true

	case process.Sleep:
		ticks, _ := strconv.Atoi(cmd.Args[0])
		p.AddLog(fmt.Sprintf("SLEEP for %d ticks.", ticks))
		p.Status = process.Paused
		p.Sleeping = true
		p.WakeUpTick = currentTick + int64(ticks)
		p.CoreID = process.NoCore
		return false

	case process.For:
		if !enterFor(p, cmd) {
			p.AddLog(fmt.Sprintf("malformed FOR at source line %d: no matching END_FOR", cmd.SourceLine))
			terminate(p, currentTick, alloc, "malformed FOR")
			return false
		}
		return true

	case process.EndFor:
		handleEndFor(p)
		return true

	case process.Write:
		return execWrite(p, cmd, currentTick, alloc, frameBytes)

	case process.Read:
		return execRead(p, cmd, currentTick, alloc, frameBytes)

	default:
		p.AddLog(fmt.Sprintf("UNKNOWN command at source line %d", cmd.SourceLine))
		return true
	}
}

// resolvePrintMessage renders a PRINT payload, substituting a bare
// variable name with its current value when the entire message names a
// declared variable, and passing literal text through unchanged
// otherwise.
func resolvePrintMessage(p *process.Process, args []string) string {
	if len(args) == 0 {
		return ""
	}
	msg := args[0]
	if v, ok := p.Variable(msg); ok {
		return strconv.Itoa(int(v))
	}
	return msg
}

// resolveOperand implements the ADD/SUBTRACT operand rule: read an
// existing variable, else parse a numeric literal, else implicitly
// declare the name to zero (logged at debug level so authors can spot
// likely typos without the simulator failing).
func resolveOperand(p *process.Process, token string) uint16 {
	if v, ok := p.Variable(token); ok {
		return v
	}
	if n, err := strconv.ParseUint(token, 10, 16); err == nil {
		return uint16(n)
	}
	slog.Debug("implicit variable declaration", "process", p.Name, "name", token)
	p.Declare(token, 0)
	return 0
}

func parseLiteral(token string) uint16 {
	n, err := strconv.ParseUint(token, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(n)
}

// enterFor evaluates a FOR's entry predicate; on success it pushes a
// LoopContext and lets IP advance normally onto the loop body, on
// predicate failure it jumps past the matching END_FOR. It returns
// false if no matching END_FOR exists.
func enterFor(p *process.Process, cmd *process.ParsedCommand) bool {
	varName := cmd.Args[0]
	start, _ := strconv.ParseInt(cmd.Args[1], 10, 32)
	end, _ := strconv.ParseInt(cmd.Args[2], 10, 32)
	step, _ := strconv.ParseInt(cmd.Args[3], 10, 32)

	endIdx, ok := findMatchingEndFor(p, p.IP-1)
	if !ok {
		return false
	}

	lc := process.LoopContext{
		StartCommandIndex: p.IP,
		EndCommandIndex:   endIdx,
		Current:           uint16(start),
		End:               uint16(end),
		Step:              int16(step),
		VarName:           varName,
	}

	if !lc.Predicate() {
		p.AddLog(fmt.Sprintf("FOR %s: entry condition false, skipping body", varName))
		p.IP = endIdx + 1
		return true
	}

	p.Declare(varName, lc.Current)
	p.PushLoop(lc)
	p.AddLog(fmt.Sprintf("FOR %s = %d (step %d, end %d)", varName, lc.Current, step, end))
	return true
}

// findMatchingEndFor scans forward from the FOR at forIdx counting
// nested depth, returning the index of the matching END_FOR.
func findMatchingEndFor(p *process.Process, forIdx int) (int, bool) {
	depth := 0
	for i := forIdx; i < len(p.Commands); i++ {
		switch p.Commands[i].Type {
		case process.For:
			depth++
		case process.EndFor:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// handleEndFor advances or repeats the innermost active loop.
func handleEndFor(p *process.Process) {
	lc := p.CurrentLoop()
	if lc == nil {
		p.AddLog("END_FOR with no active loop")
		return
	}

	lc.Current = uint16(int32(lc.Current) + int32(lc.Step))
	if lc.Predicate() {
		p.Declare(lc.VarName, lc.Current)
		p.IP = lc.StartCommandIndex
		return
	}
	p.PopLoop()
}

// execWrite validates the target address, page-touches the owning page
// through alloc (which may service a page fault), then stores the
// resolved source value.
func execWrite(p *process.Process, cmd *process.ParsedCommand, tick int64, alloc memory.Allocator, frameBytes int) bool {
	addr, addrErr := strconv.ParseUint(cmd.Args[0], 0, 32)
	src := resolveOperand(p, cmd.Args[1])

	if addrErr != nil || !inBounds(p, uint32(addr), frameBytes) {
		violate(p, tick, alloc, uint32(addr))
		return false
	}

	page := int(uint32(addr) / uint32(frameBytes/2))
	alloc.Access(p, page, tick)
	p.SetMemWord(uint32(addr), src)
	p.AddLog(fmt.Sprintf("WRITE 0x%X <- %d", addr, src))
	return true
}

// execRead validates the source address, page-touches the owning page,
// loads its word and stores it into dst.
func execRead(p *process.Process, cmd *process.ParsedCommand, tick int64, alloc memory.Allocator, frameBytes int) bool {
	dst := cmd.Args[0]
	addr, addrErr := strconv.ParseUint(cmd.Args[1], 0, 32)

	if addrErr != nil || !inBounds(p, uint32(addr), frameBytes) {
		violate(p, tick, alloc, uint32(addr))
		return false
	}

	page := int(uint32(addr) / uint32(frameBytes/2))
	alloc.Access(p, page, tick)
	val := p.MemWord(uint32(addr))
	p.Declare(dst, val)
	p.AddLog(fmt.Sprintf("READ %s <- 0x%X", dst, addr))
	return true
}

// inBounds reports whether word address addr falls within p's declared
// memory and within a page number already counted in its allocated page
// range, per spec.md §7's memory-access-violation rule.
func inBounds(p *process.Process, addr uint32, frameBytes int) bool {
	wordBound := p.MemoryRequired / 2
	if addr >= wordBound {
		return false
	}
	wordsPerPage := uint32(frameBytes / 2)
	page := addr / wordsPerPage
	return int(page) < p.PagesAllocated
}

// violate terminates p with a synthetic memory-access-violation log
// line recording the faulting address, per spec.md §7.
func violate(p *process.Process, tick int64, alloc memory.Allocator, addr uint32) {
	p.AddLog(fmt.Sprintf("memory access violation at address 0x%X", addr))
	terminate(p, tick, alloc, "memory access violation")
}

// terminate marks p TERMINATED and releases its frames. The caller (the
// scheduler) still owns invoking the finished-process callback and
// stamping a wall-clock finish time.
func terminate(p *process.Process, tick int64, alloc memory.Allocator, reason string) {
	p.Status = process.Terminated
	p.CoreID = process.NoCore
	if !p.LoopStackEmpty() {
		p.AddLog(fmt.Sprintf("TERMINATED (%s, loop stack non-empty)", reason))
	} else {
		p.AddLog(fmt.Sprintf("TERMINATED (%s)", reason))
	}
	alloc.Deallocate(p)
}
