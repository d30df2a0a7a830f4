package scheduler

import (
	"testing"
	"time"

	"github.com/coresim/coresim/internal/memory"
	"github.com/coresim/coresim/internal/process"
)

func newProc(id, name string, cmds []process.ParsedCommand) *process.Process {
	p := process.NewProcess(id, name, "now")
	p.Commands = cmds
	p.MemoryRequired = 16
	return p
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestFCFSSingleProcessRunsToCompletion(t *testing.T) {
	alloc := memory.NewFlat(1024)
	var finished *process.Process
	s := New(1, FCFS, 0, 0, 16, alloc, func(p *process.Process) { finished = p })

	p := newProc("1", "p1", []process.ParsedCommand{
		{Type: process.Declare, Args: []string{"x", "1"}},
		{Type: process.Print, Args: []string{"x"}},
	})
	if err := alloc.Allocate(p); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	s.AddProcess(p)

	s.Start()
	defer s.Stop()

	waitUntil(t, time.Second, func() bool { return finished != nil })
	if finished.Name != "p1" {
		t.Errorf("finished.Name = %q, want p1", finished.Name)
	}
	if finished.Status != process.Terminated {
		t.Errorf("finished.Status = %v, want Terminated", finished.Status)
	}
}

func TestFCFSDispatchesAcrossCores(t *testing.T) {
	alloc := memory.NewFlat(1024)
	done := make(chan *process.Process, 2)
	s := New(2, FCFS, 0, 0, 16, alloc, func(p *process.Process) { done <- p })

	for i := 1; i <= 2; i++ {
		name := "p" + string(rune('0'+i))
		p := newProc(string(rune('0'+i)), name, []process.ParsedCommand{
			{Type: process.Print, Args: []string{"hi"}},
		})
		if err := alloc.Allocate(p); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		s.AddProcess(p)
	}

	s.Start()
	defer s.Stop()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case p := <-done:
			seen[p.Name] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for both processes to finish")
		}
	}
	if !seen["p1"] || !seen["p2"] {
		t.Errorf("seen = %v, want both p1 and p2", seen)
	}
}

func TestRoundRobinPreemptsAfterQuantum(t *testing.T) {
	alloc := memory.NewFlat(1024)
	done := make(chan *process.Process, 1)
	s := New(1, RR, 2, 0, 16, alloc, func(p *process.Process) { done <- p })

	// 5 PRINTs plus the end-of-program step with a quantum of 2: the
	// process is preempted twice, revisiting the global queue, so it runs
	// in three slices and the single core is active in three passes.
	cmds := make([]process.ParsedCommand, 5)
	for i := range cmds {
		cmds[i] = process.ParsedCommand{Type: process.Print, Args: []string{"x"}}
	}
	p := newProc("1", "p1", cmds)
	if err := alloc.Allocate(p); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	s.AddProcess(p)

	s.Start()
	defer s.Stop()

	select {
	case fin := <-done:
		if fin.Status != process.Terminated {
			t.Errorf("Status = %v, want Terminated", fin.Status)
		}
		prints := 0
		for _, line := range fin.Log {
			if line == "PRINT x" {
				prints++
			}
		}
		if prints != 5 {
			t.Errorf("PRINT count = %d, want 5 (log: %v)", prints, fin.Log)
		}
		s.Stop() // wait for the final pass to be accounted
		if got := s.Stats().ActiveTicks; got != 3 {
			t.Errorf("ActiveTicks = %d, want 3 (one per quantum slice)", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for process to finish")
	}
}

func TestSleepWakesAfterConfiguredTicks(t *testing.T) {
	alloc := memory.NewFlat(1024)
	done := make(chan *process.Process, 1)
	s := New(1, FCFS, 0, 0, 16, alloc, func(p *process.Process) { done <- p })

	p := newProc("1", "p1", []process.ParsedCommand{
		{Type: process.Sleep, Args: []string{"2"}},
		{Type: process.Print, Args: []string{"after"}},
	})
	if err := alloc.Allocate(p); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	s.AddProcess(p)

	s.Start()
	defer s.Stop()

	select {
	case fin := <-done:
		found := false
		for _, line := range fin.Log {
			if line == "PRINT after" {
				found = true
			}
		}
		if !found {
			t.Errorf("Log missing post-sleep PRINT, got %v", fin.Log)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for process to wake and finish")
	}
}

func TestStartRefusesWithNoAlgorithm(t *testing.T) {
	alloc := memory.NewFlat(1024)
	s := New(1, None, 0, 0, 16, alloc, nil)
	s.Start()
	if s.Running() {
		t.Error("Running() = true after Start() with no algorithm configured")
	}
}

func TestStopIsIdempotentAndResetsState(t *testing.T) {
	alloc := memory.NewFlat(1024)
	s := New(2, FCFS, 0, 0, 16, alloc, nil)
	s.Start()
	waitUntil(t, time.Second, func() bool { return s.Running() })
	s.Stop()
	s.Stop() // must not block or panic
	if s.Running() {
		t.Error("Running() = true after Stop()")
	}
	names := s.CoreAssignments()
	for i, n := range names {
		if n != "" {
			t.Errorf("CoreAssignments()[%d] = %q, want empty after Stop()", i, n)
		}
	}
}
