// Package console implements the simulator's interactive REPL: a
// peterh/liner prompt with history and tab completion feeding a small
// command table, rendering tabular output with olekukonko/tablewriter.
// Grounded on the teacher's command/reader (liner wiring) and
// command/parser (table-driven dispatch) packages, generalized from the
// S/370 device-command grammar to spec.md §6's fixed CLI surface.
package console

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/peterh/liner"

	"github.com/coresim/coresim/internal/config"
	"github.com/coresim/coresim/internal/facade"
	"github.com/coresim/coresim/internal/memory"
	"github.com/coresim/coresim/internal/process"
)

var commandNames = []string{
	"initialize", "screen", "scheduler-start", "scheduler-stop",
	"report-util", "vmstat", "process-smi", "backing-store", "exit",
}

// Console owns the liner prompt and the System it drives.
type Console struct {
	sys        *facade.System
	configPath string
	attached   string // name of the process "screen -r"'d into, if any
}

// New builds a Console over sys, reading config.txt from configPath on
// `initialize`.
func New(sys *facade.System, configPath string) *Console {
	return &Console{sys: sys, configPath: configPath}
}

// Run drives the REPL until `exit`, a prompt abort (Ctrl-C), or a read
// error such as end of input (Ctrl-D).
func (c *Console) Run() {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(partial string) []string {
		var out []string
		for _, name := range commandNames {
			if strings.HasPrefix(name, partial) {
				out = append(out, name)
			}
		}
		return out
	})

	fmt.Println("CoreSim console. Type `initialize` to begin, `exit` to quit.")
	for {
		input, err := line.Prompt("coresim> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				return
			}
			slog.Error("error reading line", "err", err)
			return
		}
		line.AppendHistory(input)

		quit, err := c.dispatch(strings.TrimSpace(input))
		if err != nil {
			fmt.Println("Error: " + err.Error())
		}
		if quit {
			return
		}
	}
}

// dispatch parses and runs one REPL line, returning true iff the REPL
// should exit.
func (c *Console) dispatch(line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	fields := tokenize(line)
	name := fields[0]
	args := fields[1:]

	switch name {
	case "initialize":
		return false, c.cmdInitialize()
	case "screen":
		return false, c.cmdScreen(args)
	case "scheduler-start":
		return false, c.sys.StartScheduler()
	case "scheduler-stop":
		return false, c.sys.StopScheduler()
	case "report-util":
		return false, c.cmdReportUtil()
	case "vmstat":
		return false, c.cmdVMStat()
	case "process-smi":
		return false, c.cmdProcessSMI()
	case "backing-store":
		return false, c.cmdBackingStore()
	case "exit":
		c.sys.Shutdown()
		return true, nil
	default:
		return false, fmt.Errorf("unrecognized command %q", name)
	}
}

// tokenize splits a line on whitespace but keeps a double-quoted segment
// (the screen -c instruction list) as one field.
func tokenize(line string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ' ' && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

func (c *Console) cmdInitialize() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := c.sys.Initialize(cfg); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	fmt.Println("Subsystems initialized.")
	return nil
}

func (c *Console) cmdScreen(args []string) error {
	if len(args) == 0 {
		return errors.New("screen: missing -s, -c, -r or -ls")
	}
	switch args[0] {
	case "-s":
		return c.screenCreate(args[1:])
	case "-c":
		return c.screenCreateCustom(args[1:])
	case "-r":
		return c.screenAttach(args[1:])
	case "-ls":
		fmt.Print(c.renderScreenLS())
		return nil
	default:
		return fmt.Errorf("screen: unrecognized option %q", args[0])
	}
}

func (c *Console) screenCreate(args []string) error {
	if len(args) < 1 {
		return errors.New("screen -s: missing <name>")
	}
	name := args[0]
	var mem uint32
	if len(args) > 1 {
		n, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("screen -s: invalid memory size %q", args[1])
		}
		mem = uint32(n)
	}
	_, err := c.sys.CreateProcess(name, mem)
	return err
}

func (c *Console) screenCreateCustom(args []string) error {
	if len(args) < 2 {
		return errors.New(`screen -c: usage: screen -c <name> [mem] "<i1; i2; ...>"`)
	}
	name := args[0]
	rest := args[1:]

	var mem uint32
	if len(rest) > 1 {
		if n, err := strconv.ParseUint(rest[0], 10, 32); err == nil {
			mem = uint32(n)
			rest = rest[1:]
		}
	}
	cmds, err := parseInstructions(rest[0])
	if err != nil {
		return fmt.Errorf("screen -c: %w", err)
	}
	_, err = c.sys.CreateCustomProcess(name, cmds, mem)
	return err
}

func (c *Console) screenAttach(args []string) error {
	if len(args) < 1 {
		return errors.New("screen -r: missing <name>")
	}
	name := args[0]
	p, ok := c.sys.GetProcess(name)
	if !ok {
		return fmt.Errorf("screen -r: no such process %q", name)
	}
	if p.Status == process.Terminated && hasViolation(p) {
		fmt.Printf("Process %s terminated: memory access violation.\n", name)
		return nil
	}
	fmt.Printf("-- %s (%s) --\n", p.Name, p.Status)
	for _, line := range p.Log {
		fmt.Println(line)
	}
	return nil
}

func hasViolation(p *process.Process) bool {
	for _, line := range p.Log {
		if strings.Contains(line, "memory access violation") {
			return true
		}
	}
	return false
}

func (c *Console) renderScreenLS() string {
	var b strings.Builder
	sched := c.sys.Scheduler()
	if sched == nil {
		return "Scheduler is not running. Use 'scheduler-start' to activate.\n"
	}
	stats := sched.Stats()
	b.WriteString("Scheduler Status\n")
	fmt.Fprintf(&b, "Total Cores: %d\n", stats.NumCores)
	fmt.Fprintf(&b, "Cores Used: %d\n", stats.CoresUsed)
	fmt.Fprintf(&b, "Cores Available: %d\n", stats.NumCores-stats.CoresUsed)
	util := 0.0
	if stats.NumCores > 0 {
		util = 100 * float64(stats.CoresUsed) / float64(stats.NumCores)
	}
	fmt.Fprintf(&b, "CPU Utilization: %.2f%%\n", util)

	b.WriteString("\nRunning processes:\n")
	b.WriteString(renderProcessTable(c.sys.ListActive(), c.sys))

	b.WriteString("\nFinished processes:\n")
	b.WriteString(renderProcessTable(c.sys.ListFinished(), c.sys))

	return b.String()
}

func renderProcessTable(procs []*process.Process, sys *facade.System) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Process", "Created", "Core", "Progress", "Status"})
	for _, p := range procs {
		core := "N/A"
		if p.CoreID != process.NoCore {
			core = strconv.Itoa(p.CoreID)
		}
		table.Append([]string{p.Name, p.Created, core, p.Progress(), p.Status.String()})
	}
	table.Render()
	return buf.String()
}

func (c *Console) cmdReportUtil() error {
	if err := os.MkdirAll("reports", 0o755); err != nil {
		return fmt.Errorf("report-util: %w", err)
	}
	name := fmt.Sprintf("scheduler_report_%s.txt", time.Now().Format("2006-01-02_15-04-05"))
	path := filepath.Join("reports", name)
	if err := os.WriteFile(path, []byte(c.renderScreenLS()), 0o644); err != nil {
		return fmt.Errorf("report-util: %w", err)
	}
	fmt.Printf("Report written to %s\n", path)
	return nil
}

func (c *Console) cmdVMStat() error {
	sched := c.sys.Scheduler()
	alloc := c.sys.Allocator()
	if sched == nil || alloc == nil {
		return facade.ErrNotInitialized
	}
	stats := sched.Stats()

	frameSize := alloc.FrameSize()
	totalFrames := alloc.TotalFrames()
	freeFrames := alloc.FreeFrameCount()
	usedFrames := totalFrames - freeFrames
	totalMem := totalFrames * frameSize
	usedMem := usedFrames * frameSize
	freeMem := freeFrames * frameSize

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"total-memory-bytes", strconv.Itoa(totalMem)})
	table.Append([]string{"used-memory-bytes", strconv.Itoa(usedMem)})
	table.Append([]string{"free-memory-bytes", strconv.Itoa(freeMem)})
	table.Append([]string{"total-cpu-ticks", strconv.FormatInt(stats.TotalTicks, 10)})
	table.Append([]string{"active-cpu-ticks", strconv.FormatInt(stats.ActiveTicks, 10)})
	table.Append([]string{"idle-cpu-ticks", strconv.FormatInt(stats.IdleTicks, 10)})
	table.Append([]string{"total-frames", strconv.Itoa(totalFrames)})
	table.Append([]string{"free-frames", strconv.Itoa(freeFrames)})
	table.Append([]string{"pages-paged-in", strconv.FormatInt(alloc.PagedInCount(), 10)})
	table.Append([]string{"pages-paged-out", strconv.FormatInt(alloc.PagedOutCount(), 10)})
	table.Render()
	fmt.Print(buf.String())
	return nil
}

func (c *Console) cmdProcessSMI() error {
	alloc := c.sys.Allocator()
	if alloc == nil {
		return facade.ErrNotInitialized
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Process", "Status", "Memory", "Pages Allocated", "Pages Resident", "Pages Paged Out"})
	for _, p := range c.sys.ListActive() {
		table.Append(processSMIRow(p, alloc))
	}
	for _, p := range c.sys.ListFinished() {
		table.Append(processSMIRow(p, alloc))
	}
	table.Render()
	fmt.Print(buf.String())
	return nil
}

func processSMIRow(p *process.Process, alloc memory.Allocator) []string {
	return []string{
		p.Name,
		p.Status.String(),
		strconv.Itoa(int(p.MemoryRequired)),
		strconv.Itoa(p.PagesAllocated),
		strconv.Itoa(alloc.ResidentPages(p.ID)),
		strconv.Itoa(alloc.NonResidentPages(p.ID)),
	}
}

func (c *Console) cmdBackingStore() error {
	store := c.sys.BackingStore()
	if store == nil {
		return facade.ErrNotInitialized
	}
	records, total := store.Records(20)

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Process", "Page", "Bytes"})
	for _, r := range records {
		table.Append([]string{r.PID, strconv.Itoa(r.Page), r.Hex})
	}
	table.Render()
	fmt.Print(buf.String())
	fmt.Printf("Total pages in backing store: %d\n", total)
	return nil
}
