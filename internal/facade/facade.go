// Package facade is the system-context handle the console (or any other
// outer UI) drives: it wires together the config, backing store,
// allocator, scheduler and batch generator, and owns the active/finished
// process maps. Grounded on spec.md §4.6 and §9's "Singleton → explicit
// context" design note: no package-level state, every component is
// constructed and owned by one System value.
package facade

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/coresim/coresim/internal/backingstore"
	"github.com/coresim/coresim/internal/batchgen"
	"github.com/coresim/coresim/internal/config"
	"github.com/coresim/coresim/internal/memory"
	"github.com/coresim/coresim/internal/process"
	"github.com/coresim/coresim/internal/scheduler"
)

// ErrNotInitialized is returned by operations that require initialize to
// have already run.
var ErrNotInitialized = fmt.Errorf("system not initialized")

// ErrAlreadyRunning is returned by Initialize while the scheduler is
// active.
var ErrAlreadyRunning = fmt.Errorf("scheduler is running, stop it before re-initializing")

// ErrDuplicateProcess is returned by process creation when name already
// names a non-finished process.
var ErrDuplicateProcess = fmt.Errorf("a process with that name is already active")

const backingStorePath = "csopesy-backing-store.txt"

// System is the owned object tree backing every facade operation.
type System struct {
	mu sync.Mutex

	cfg   *config.Config
	store *backingstore.Store
	alloc memory.Allocator
	sched *scheduler.Scheduler
	gen   *batchgen.Generator

	active   map[string]*process.Process
	finished map[string]*process.Process

	nextPID   int
	nextBatch int
}

// New constructs an empty, uninitialized System.
func New() *System {
	return &System{
		active:   make(map[string]*process.Process),
		finished: make(map[string]*process.Process),
	}
}

// Initialize reads cfg, truncates the backing store, and builds the
// allocator, scheduler and batch generator. Refused while a previous
// scheduler is still running.
func (s *System) Initialize(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sched != nil && s.sched.Running() {
		return ErrAlreadyRunning
	}

	store, err := backingstore.Open(backingStorePath, int(cfg.MemPerFrame))
	if err != nil {
		return fmt.Errorf("initialize backing store: %w", err)
	}

	var alloc memory.Allocator
	if cfg.Allocator == config.FlatAllocator {
		alloc = memory.NewFlat(int(cfg.MaxOverallMem))
	} else {
		alloc = memory.NewDemandPaging(int(cfg.MaxOverallMem), int(cfg.MemPerFrame), memory.FIFO, store)
	}

	s.cfg = cfg
	s.store = store
	s.alloc = alloc
	s.active = make(map[string]*process.Process)
	s.finished = make(map[string]*process.Process)
	s.nextPID = 0
	s.nextBatch = 0

	algo := scheduler.FCFS
	if cfg.Scheduler == config.RR {
		algo = scheduler.RR
	}
	s.sched = scheduler.New(int(cfg.NumCPU), algo, int(cfg.QuantumCycles), int(cfg.DelaysPerExec), int(cfg.MemPerFrame), alloc, s.onTerminate)
	s.gen = batchgen.New(int64(cfg.BatchProcessFreq), s.sched.SimTick, func() { _ = s.CreateBatchProcess() })

	return nil
}

// StartScheduler starts the dispatch loop and, if configured, the batch
// generator.
func (s *System) StartScheduler() error {
	s.mu.Lock()
	sched := s.sched
	gen := s.gen
	s.mu.Unlock()
	if sched == nil {
		return ErrNotInitialized
	}
	sched.Start()
	if gen != nil {
		gen.Start()
	}
	return nil
}

// StopScheduler stops the batch generator only; the dispatch loop
// continues draining already-admitted processes, per spec.md §9's
// adopted resolution of the scheduler-stop open question.
func (s *System) StopScheduler() error {
	s.mu.Lock()
	gen := s.gen
	sched := s.sched
	s.mu.Unlock()
	if sched == nil {
		return ErrNotInitialized
	}
	if gen != nil {
		gen.Stop()
	}
	return nil
}

// Shutdown fully tears down the scheduler, used by the `exit` command.
func (s *System) Shutdown() {
	s.mu.Lock()
	sched := s.sched
	gen := s.gen
	s.mu.Unlock()
	if gen != nil {
		gen.Stop()
	}
	if sched != nil {
		sched.Stop()
	}
}

func (s *System) onTerminate(p *process.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, p.Name)
	s.finished[p.Name] = p
}

func (s *System) nextPIDLocked() string {
	s.nextPID++
	return fmt.Sprintf("%d", s.nextPID)
}

// CreateProcess creates a process with randomly generated instructions,
// per spec.md §4.6's create_process.
func (s *System) CreateProcess(name string, mem uint32) (*process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched == nil {
		return nil, ErrNotInitialized
	}
	if err := s.checkUniqueLocked(name); err != nil {
		return nil, err
	}
	if mem == 0 {
		mem = randRange(s.cfg.MinMemPerProc, s.cfg.MaxMemPerProc)
	}
	count := int(randRange(s.cfg.MinIns, s.cfg.MaxIns))
	cmds := randomProgram(count)
	return s.admitLocked(name, cmds, mem)
}

// CreateCustomProcess creates a process from an explicit 1-50
// instruction program, per spec.md §4.6's create_custom_process.
func (s *System) CreateCustomProcess(name string, cmds []process.ParsedCommand, mem uint32) (*process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched == nil {
		return nil, ErrNotInitialized
	}
	if len(cmds) < 1 || len(cmds) > 50 {
		return nil, fmt.Errorf("custom process must have between 1 and 50 instructions, got %d", len(cmds))
	}
	if err := s.checkUniqueLocked(name); err != nil {
		return nil, err
	}
	if mem == 0 {
		mem = randRange(s.cfg.MinMemPerProc, s.cfg.MaxMemPerProc)
	}
	return s.admitLocked(name, cmds, mem)
}

// CreateBatchProcess is the batch generator's creation callback: a
// monotonically named process_<n> with a random program and memory
// demand, per spec.md §4.5.
func (s *System) CreateBatchProcess() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched == nil {
		return ErrNotInitialized
	}
	s.nextBatch++
	name := fmt.Sprintf("process_%d", s.nextBatch)
	count := int(randRange(s.cfg.MinIns, s.cfg.MaxIns))
	mem := randRange(s.cfg.MinMemPerProc, s.cfg.MaxMemPerProc)
	_, err := s.admitLocked(name, randomProgram(count), mem)
	return err
}

func (s *System) checkUniqueLocked(name string) error {
	if _, ok := s.active[name]; ok {
		return ErrDuplicateProcess
	}
	return nil
}

// admitLocked builds a Process and admits it per the configured
// algorithm: FCFS allocates synchronously and fails creation outright on
// no-frames; RR always admits to the global queue via the pending-queue
// drain.
func (s *System) admitLocked(name string, cmds []process.ParsedCommand, mem uint32) (*process.Process, error) {
	id := s.nextPIDLocked()
	p := process.NewProcess(id, name, time.Now().Format("01/02/2006 03:04:05PM"))
	p.Commands = cmds
	p.MemoryRequired = mem

	if s.cfg.Scheduler == config.RR {
		p.Status = process.Paused
		s.active[name] = p
		s.sched.AddToRRPending(p)
		return p, nil
	}

	if err := s.alloc.Allocate(p); err != nil {
		return nil, fmt.Errorf("create process %q: %w", name, memory.ErrNoFrames)
	}
	s.active[name] = p
	s.sched.AddProcess(p)
	return p, nil
}

// ListActive returns every process not yet admitted to a ready/running
// state plus every currently running/ready one, i.e. everything in the
// active map.
func (s *System) ListActive() []*process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*process.Process, 0, len(s.active))
	for _, p := range s.active {
		out = append(out, p)
	}
	return out
}

// ListFinished returns every terminated process.
func (s *System) ListFinished() []*process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*process.Process, 0, len(s.finished))
	for _, p := range s.finished {
		out = append(out, p)
	}
	return out
}

// ListPending returns active processes with status PAUSED and zero
// pages allocated — i.e. parked in the RR-pending queue.
func (s *System) ListPending() []*process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*process.Process
	for _, p := range s.active {
		if p.Status == process.Paused && !p.Sleeping && p.PagesAllocated == 0 {
			out = append(out, p)
		}
	}
	return out
}

// GetProcess finds a process by name in either the active or finished
// map.
func (s *System) GetProcess(name string) (*process.Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.active[name]; ok {
		return p, true
	}
	if p, ok := s.finished[name]; ok {
		return p, true
	}
	return nil, false
}

// CleanupTerminated drops a finished process from the finished map
// entirely, freeing the name for reuse.
func (s *System) CleanupTerminated(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.finished[name]; !ok {
		return fmt.Errorf("no finished process named %q", name)
	}
	delete(s.finished, name)
	return nil
}

// Scheduler exposes the underlying scheduler for facade-external queries
// (screen -ls, vmstat, process-smi) that need dispatch state.
func (s *System) Scheduler() *scheduler.Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched
}

// Allocator exposes the configured allocator for memory/paging queries.
func (s *System) Allocator() memory.Allocator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alloc
}

// BackingStore exposes the backing store for the `backing-store` query.
func (s *System) BackingStore() *backingstore.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

func randRange(min, max uint32) uint32 {
	if max <= min {
		return min
	}
	return min + uint32(rand.Int63n(int64(max-min+1)))
}

// randomProgram synthesizes a count-instruction body drawn from
// PRINT/DECLARE/ADD/SUBTRACT/SLEEP, matching spec.md §4.6's
// screen -s contract.
func randomProgram(count int) []process.ParsedCommand {
	if count < 1 {
		count = 1
	}
	cmds := make([]process.ParsedCommand, 0, count)
	for i := 0; i < count; i++ {
		switch rand.Intn(5) {
		case 0:
			cmds = append(cmds, process.ParsedCommand{Type: process.Print, Args: []string{"Hello world"}, SourceLine: i})
		case 1:
			cmds = append(cmds, process.ParsedCommand{Type: process.Declare, Args: []string{"x", fmt.Sprintf("%d", rand.Intn(100))}, SourceLine: i})
		case 2:
			cmds = append(cmds, process.ParsedCommand{Type: process.Add, Args: []string{"x", "x", "1"}, SourceLine: i})
		case 3:
			cmds = append(cmds, process.ParsedCommand{Type: process.Subtract, Args: []string{"x", "x", "1"}, SourceLine: i})
		default:
			cmds = append(cmds, process.ParsedCommand{Type: process.Sleep, Args: []string{"1"}, SourceLine: i})
		}
	}
	return cmds
}
