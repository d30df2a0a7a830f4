// Package scheduler implements the simulator's core dispatch loop: a
// pool of simulated cores, per-core and global ready queues, a
// round-robin pending queue for memory-starved processes, a sleeping
// list, and a simulated clock decoupled from wall time. Grounded on
// original_source/src/core/Scheduler.cpp, with its condition-variable
// wakeups translated to a buffered Go wake channel in the style of the
// teacher's goroutine-plus-channel core loop (emu/core/core.go).
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/coresim/coresim/internal/interpreter"
	"github.com/coresim/coresim/internal/memory"
	"github.com/coresim/coresim/internal/process"
)

// TickMS is the wall-clock period one simulated tick represents.
const TickMS = 50

// Algorithm selects the dispatch policy. None is the pre-initialize
// zero value: Start refuses to run a scheduler with no algorithm set.
type Algorithm int

const (
	None Algorithm = iota
	FCFS
	RR
)

type sleeper struct {
	proc     *process.Process
	wakeTick int64
	coreID   int
}

// Scheduler owns every piece of mutable dispatch state behind a single
// mutex, per spec.md §5's synchronization model.
type Scheduler struct {
	mu sync.Mutex

	numCores       int
	coreAvailable  []bool
	coreAssignment []*process.Process
	fcfsQueues     [][]*process.Process
	nextCore       int

	globalQueue []*process.Process
	rrPending   []*process.Process
	sleeping    []sleeper

	algorithm Algorithm
	quantum   int
	delay     int
	frameSize int

	alloc memory.Allocator

	simTick     int64
	totalTicks  int64
	activeTicks int64
	idleTicks   int64

	running       bool
	stopRequested bool
	wake          chan struct{}
	wg            sync.WaitGroup

	onTerminate func(p *process.Process)
}

// New builds a Scheduler for numCores cores, quantum instructions per RR
// slice, delay extra ticks per instruction, and frameSize-byte pages.
// onTerminate is invoked (without the scheduler's lock held) whenever a
// process reaches TERMINATED.
func New(numCores int, algo Algorithm, quantum, delay, frameSize int, alloc memory.Allocator, onTerminate func(*process.Process)) *Scheduler {
	s := &Scheduler{
		numCores:       numCores,
		coreAvailable:  make([]bool, numCores),
		coreAssignment: make([]*process.Process, numCores),
		fcfsQueues:     make([][]*process.Process, numCores),
		algorithm:      algo,
		quantum:        quantum,
		delay:          delay,
		frameSize:      frameSize,
		alloc:          alloc,
		wake:           make(chan struct{}, 1),
		onTerminate:    onTerminate,
	}
	for i := range s.coreAvailable {
		s.coreAvailable[i] = true
	}
	return s
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// AddProcess admits a READY process, per spec.md §4.1. A process that
// arrives already TERMINATED is ignored.
func (s *Scheduler) AddProcess(p *process.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addProcessLocked(p)
}

func (s *Scheduler) addProcessLocked(p *process.Process) {
	if p.Status == process.Terminated {
		return
	}
	p.Status = process.Ready

	if s.algorithm == RR {
		s.globalQueue = append(s.globalQueue, p)
		slog.Debug("process added to RR global queue", "process", p.Name, "pid", p.ID)
	} else {
		core := s.nextCore
		s.fcfsQueues[core] = append(s.fcfsQueues[core], p)
		s.nextCore = (s.nextCore + 1) % s.numCores
		slog.Debug("process added to FCFS queue", "process", p.Name, "pid", p.ID, "core", core)
	}
	s.notify()
}

// AddToRRPending parks p awaiting memory admission. Only valid under RR.
func (s *Scheduler) AddToRRPending(p *process.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.algorithm != RR {
		return
	}
	s.rrPending = append(s.rrPending, p)
	s.notify()
}

// MarkCoreAvailable clears a core's assignment. Out-of-range indices are
// ignored per spec.md §4.1's failure semantics.
func (s *Scheduler) MarkCoreAvailable(core int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCoreAvailableLocked(core)
}

func (s *Scheduler) markCoreAvailableLocked(core int) {
	if core < 0 || core >= s.numCores {
		return
	}
	s.coreAvailable[core] = true
	s.coreAssignment[core] = nil
	s.notify()
}

// Start spawns the dispatch goroutine. Idempotent; refuses if no
// algorithm has been configured.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.algorithm == None {
		s.mu.Unlock()
		slog.Error("scheduler start refused: no algorithm configured")
		return
	}
	if s.running {
		s.mu.Unlock()
		slog.Info("scheduler already running")
		return
	}
	s.running = true
	s.stopRequested = false
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop()
}

// Stop signals the dispatch goroutine, waits for it to drain, and resets
// core state. Safe to call from any goroutine other than the dispatch
// loop itself.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.stopRequested = true
	s.mu.Unlock()
	s.notify()

	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.resetCoreStatesLocked()
	s.mu.Unlock()
}

// Running reports whether the dispatch loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SimTick reports the current simulated-tick counter, read only by the
// batch generator so it stays in lockstep with simulated rather than
// wall time, per spec.md §4.5.
func (s *Scheduler) SimTick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.simTick
}

func (s *Scheduler) resetCoreStatesLocked() {
	for i := range s.coreAvailable {
		s.coreAvailable[i] = true
		s.coreAssignment[i] = nil
		s.fcfsQueues[i] = nil
	}
	s.globalQueue = nil
	s.sleeping = nil
	s.simTick = 0
}

// runLoop is the scheduler goroutine: advance simulated time from wall
// time, wake sleepers, drain RR-pending, dispatch, and either busy-wait
// or block on the wake channel, per spec.md §4.1's five numbered steps.
func (s *Scheduler) runLoop() {
	defer s.wg.Done()

	last := time.Now()
	for {
		now := time.Now()
		elapsed := now.Sub(last).Milliseconds()
		if elapsed >= TickMS {
			advance := elapsed / TickMS
			last = last.Add(time.Duration(advance*TickMS) * time.Millisecond)

			s.mu.Lock()
			s.simTick += advance
			s.wakeSleepersLocked()
			s.mu.Unlock()
		}

		s.mu.Lock()
		if s.algorithm == RR {
			s.drainRRPendingLocked()
		}

		hasReady := s.hasReadyLocked()
		anyRunning := s.anyCoreRunningLocked()
		hasSleepers := len(s.sleeping) > 0

		if !hasReady && !anyRunning && !hasSleepers {
			if s.stopRequested {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			select {
			case <-s.wake:
			case <-time.After(TickMS * time.Millisecond):
			}
			continue
		}

		if s.algorithm == RR {
			s.runRoundRobinLocked()
		} else {
			s.runFCFSLocked()
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-time.After(100 * time.Microsecond):
		}
	}
}

func (s *Scheduler) hasReadyLocked() bool {
	if s.algorithm == RR {
		return len(s.globalQueue) > 0
	}
	for _, q := range s.fcfsQueues {
		if len(q) > 0 {
			return true
		}
	}
	return false
}

func (s *Scheduler) anyCoreRunningLocked() bool {
	for _, p := range s.coreAssignment {
		if p != nil {
			return true
		}
	}
	return false
}

func (s *Scheduler) wakeSleepersLocked() {
	if len(s.sleeping) == 0 {
		return
	}
	remaining := s.sleeping[:0]
	woke := false
	for _, sl := range s.sleeping {
		if s.simTick >= sl.wakeTick {
			slog.Debug("process woken up", "core", sl.coreID, "process", sl.proc.Name, "pid", sl.proc.ID, "tick", s.simTick)
			sl.proc.Sleeping = false
			s.addProcessLocked(sl.proc)
			woke = true
		} else {
			remaining = append(remaining, sl)
		}
	}
	s.sleeping = remaining
	if woke {
		s.notify()
	}
}

func (s *Scheduler) drainRRPendingLocked() {
	if len(s.rrPending) == 0 {
		return
	}
	pending := s.rrPending
	s.rrPending = nil
	for _, p := range pending {
		if err := s.alloc.Allocate(p); err != nil {
			s.rrPending = append(s.rrPending, p)
			slog.Debug("process failed memory allocation, remaining in pending queue", "process", p.Name, "pid", p.ID)
			continue
		}
		p.Status = process.Ready
		s.globalQueue = append(s.globalQueue, p)
		slog.Debug("process admitted from RR pending queue", "process", p.Name, "pid", p.ID)
	}
}

// registerSleep records p as sleeping until wakeTick, grounded on
// Scheduler::executeSingleCommand's SLEEP handling.
func (s *Scheduler) registerSleep(p *process.Process, coreID int) {
	s.sleeping = append(s.sleeping, sleeper{proc: p, wakeTick: p.WakeUpTick, coreID: coreID})
}

// runFCFSLocked implements spec.md §4.1's FCFS dispatch pass. A core can
// execute up to twice in one pass (finish its current process, then
// immediately pick up and run a freshly dispatched one), so ticks are
// accounted per distinct core that executed at least one instruction,
// not per instruction executed, per spec.md §4.1's active_cpu_ticks
// definition.
func (s *Scheduler) runFCFSLocked() {
	executed := make([]bool, s.numCores)
	for c := 0; c < s.numCores; c++ {
		p := s.coreAssignment[c]
		if p != nil {
			cont := interpreter.ExecuteOne(p, c, s.simTick, s.alloc, s.frameSize)
			s.simTick += int64(1 + s.delay)
			executed[c] = true
			if !cont {
				if p.Sleeping {
					s.registerSleep(p, c)
				} else if p.Status == process.Terminated {
					s.finish(p)
				}
				s.markCoreAvailableLocked(c)
			}
		}
	}

	for c := 0; c < s.numCores; c++ {
		if !s.coreAvailable[c] {
			continue
		}
		var next *process.Process
		if len(s.fcfsQueues[c]) > 0 {
			next, s.fcfsQueues[c] = s.fcfsQueues[c][0], s.fcfsQueues[c][1:]
		} else {
			for i := 0; i < s.numCores; i++ {
				if len(s.fcfsQueues[i]) > 0 {
					next, s.fcfsQueues[i] = s.fcfsQueues[i][0], s.fcfsQueues[i][1:]
					break
				}
			}
		}
		if next == nil {
			continue
		}
		next.Status = process.Running
		next.CoreID = c
		s.coreAvailable[c] = false
		s.coreAssignment[c] = next
		slog.Debug("process dispatched", "core", c, "process", next.Name, "pid", next.ID)

		cont := interpreter.ExecuteOne(next, c, s.simTick, s.alloc, s.frameSize)
		s.simTick += int64(1 + s.delay)
		executed[c] = true
		if !cont {
			if next.Sleeping {
				s.registerSleep(next, c)
			} else if next.Status == process.Terminated {
				s.finish(next)
			}
			s.markCoreAvailableLocked(c)
		}
	}

	s.accountTicks(coresExecuted(executed))
}

// coresExecuted counts how many cores ran at least one instruction this
// pass.
func coresExecuted(executed []bool) int {
	n := 0
	for _, e := range executed {
		if e {
			n++
		}
	}
	return n
}

// runRoundRobinLocked implements spec.md §4.1's RR dispatch pass.
func (s *Scheduler) runRoundRobinLocked() {
	effectiveQuantum := s.quantum
	if effectiveQuantum <= 0 {
		effectiveQuantum = 3
	}

	for c := 0; c < s.numCores; c++ {
		if !s.coreAvailable[c] || len(s.globalQueue) == 0 {
			continue
		}
		next := s.globalQueue[0]
		s.globalQueue = s.globalQueue[1:]
		next.Status = process.Running
		next.CoreID = c
		s.coreAvailable[c] = false
		s.coreAssignment[c] = next
		slog.Debug("process dispatched", "core", c, "process", next.Name, "pid", next.ID)
	}

	// A core may execute up to effectiveQuantum instructions in this
	// pass, but it counts as one active tick for that core, per
	// spec.md §4.1's active_cpu_ticks definition.
	executed := make([]bool, s.numCores)
	for c := 0; c < s.numCores; c++ {
		p := s.coreAssignment[c]
		if p == nil {
			continue
		}
		for i := 0; i < effectiveQuantum; i++ {
			cont := interpreter.ExecuteOne(p, c, s.simTick, s.alloc, s.frameSize)
			s.simTick += int64(1 + s.delay)
			executed[c] = true
			if !cont {
				break
			}
		}
		if p.Status == process.Terminated {
			s.finish(p)
			s.markCoreAvailableLocked(c)
		} else if p.Sleeping {
			s.registerSleep(p, c)
			s.markCoreAvailableLocked(c)
		} else {
			p.Status = process.Ready
			s.globalQueue = append(s.globalQueue, p)
			slog.Debug("process preempted, added to RR global queue", "core", c, "process", p.Name, "pid", p.ID)
			s.markCoreAvailableLocked(c)
		}
	}

	s.accountTicks(coresExecuted(executed))
}

func (s *Scheduler) accountTicks(ran int) {
	s.totalTicks += int64(s.numCores)
	s.activeTicks += int64(ran)
	remainder := int64(s.numCores) - int64(ran)
	if remainder < 0 {
		remainder = 0
	}
	s.idleTicks += remainder
}

// finish stamps a process TERMINATED at the current moment and invokes
// the termination callback without holding the lock, per spec.md §5's
// ordering guarantees (the callback is a facade concern, not a dispatch
// concern).
func (s *Scheduler) finish(p *process.Process) {
	p.FinishTime = time.Now().Format("01/02/2006 03:04:05PM")
	cb := s.onTerminate
	if cb == nil {
		return
	}
	s.mu.Unlock()
	cb(p)
	s.mu.Lock()
}

// Snapshot is a point-in-time read of scheduler accounting, used by
// screen -ls and vmstat.
type Snapshot struct {
	NumCores    int
	CoresUsed   int
	SimTick     int64
	TotalTicks  int64
	ActiveTicks int64
	IdleTicks   int64
	Running     bool
}

// Stats returns a consistent snapshot of the scheduler's counters.
func (s *Scheduler) Stats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := 0
	for _, avail := range s.coreAvailable {
		if !avail {
			used++
		}
	}
	return Snapshot{
		NumCores:    s.numCores,
		CoresUsed:   used,
		SimTick:     s.simTick,
		TotalTicks:  s.totalTicks,
		ActiveTicks: s.activeTicks,
		IdleTicks:   s.idleTicks,
		Running:     s.running,
	}
}

// CoreAssignments returns, for each core, the name of its current
// process or "" if idle.
func (s *Scheduler) CoreAssignments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, s.numCores)
	for i, p := range s.coreAssignment {
		if p != nil {
			names[i] = p.Name
		}
	}
	return names
}

// ProcessCore reports the core id a running process currently occupies,
// or process.NoCore.
func (s *Scheduler) ProcessCore(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.coreAssignment {
		if p != nil && p.Name == name {
			return i
		}
	}
	return process.NoCore
}
