package facade

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coresim/coresim/internal/config"
	"github.com/coresim/coresim/internal/memory"
)

func testConfig(t *testing.T, scheduler string) *config.Config {
	t.Helper()
	return loadConfigWithExtra(t, scheduler, "")
}

func loadConfigWithExtra(t *testing.T, scheduler, extra string) *config.Config {
	t.Helper()
	text := `
num-cpu=2
scheduler=` + scheduler + `
batch-process-freq=0
min-ins=2
max-ins=2
delays-per-exec=0
quantum-cycles=3
max-overall-mem=64
mem-per-frame=16
min-mem-per-proc=16
max-mem-per-proc=16
` + extra
	path := filepath.Join(t.TempDir(), "config.txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestInitializeBuildsSubsystems(t *testing.T) {
	sys := New()
	cfg := testConfig(t, "fcfs")
	if err := sys.Initialize(cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if sys.Scheduler() == nil {
		t.Error("Scheduler() = nil after Initialize")
	}
	if sys.Allocator() == nil {
		t.Error("Allocator() = nil after Initialize")
	}
	if sys.BackingStore() == nil {
		t.Error("BackingStore() = nil after Initialize")
	}
}

func TestCreateProcessRejectsDuplicateNames(t *testing.T) {
	sys := New()
	cfg := testConfig(t, "fcfs")
	if err := sys.Initialize(cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := sys.CreateProcess("p1", 16); err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	if _, err := sys.CreateProcess("p1", 16); err != ErrDuplicateProcess {
		t.Errorf("second CreateProcess(p1) = %v, want ErrDuplicateProcess", err)
	}
}

func TestCreateCustomProcessValidatesInstructionCount(t *testing.T) {
	sys := New()
	cfg := testConfig(t, "fcfs")
	if err := sys.Initialize(cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := sys.CreateCustomProcess("p1", nil, 16); err == nil {
		t.Error("CreateCustomProcess with 0 instructions succeeded, want error")
	}
}

func TestFCFSRunsProcessToFinishedMap(t *testing.T) {
	sys := New()
	cfg := testConfig(t, "fcfs")
	if err := sys.Initialize(cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := sys.CreateProcess("p1", 16); err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	if err := sys.StartScheduler(); err != nil {
		t.Fatalf("StartScheduler: %v", err)
	}
	defer sys.Shutdown()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(sys.ListFinished()) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if len(sys.ListFinished()) != 1 {
		t.Fatalf("ListFinished() = %v, want one finished process", sys.ListFinished())
	}
	if len(sys.ListActive()) != 0 {
		t.Errorf("ListActive() = %v, want empty once the process finished", sys.ListActive())
	}
}

func TestRRCreateParksInPendingQueue(t *testing.T) {
	sys := New()
	cfg := testConfig(t, "rr")
	if err := sys.Initialize(cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := sys.CreateProcess("p1", 16); err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	pending := sys.ListPending()
	if len(pending) != 1 {
		t.Fatalf("ListPending() = %v, want one pending process before scheduler starts", pending)
	}
}

func TestInitializeSelectsFlatAllocatorFromConfig(t *testing.T) {
	sys := New()
	cfg := loadConfigWithExtra(t, "fcfs", "allocator=flat\n")
	if err := sys.Initialize(cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, ok := sys.Allocator().(*memory.FlatMemoryAllocator); !ok {
		t.Errorf("Allocator() = %T, want *memory.FlatMemoryAllocator", sys.Allocator())
	}

	if _, err := sys.CreateProcess("p1", 16); err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	if err := sys.StartScheduler(); err != nil {
		t.Fatalf("StartScheduler: %v", err)
	}
	defer sys.Shutdown()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(sys.ListFinished()) == 0 {
		time.Sleep(time.Millisecond)
	}
	if len(sys.ListFinished()) != 1 {
		t.Fatalf("ListFinished() = %v, want one finished process under the flat allocator", sys.ListFinished())
	}
}

func TestCleanupTerminatedRemovesFinishedProcess(t *testing.T) {
	sys := New()
	cfg := testConfig(t, "fcfs")
	if err := sys.Initialize(cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := sys.CreateProcess("p1", 16); err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	if err := sys.StartScheduler(); err != nil {
		t.Fatalf("StartScheduler: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(sys.ListFinished()) == 0 {
		time.Sleep(time.Millisecond)
	}
	sys.Shutdown()

	if err := sys.CleanupTerminated("p1"); err != nil {
		t.Fatalf("CleanupTerminated: %v", err)
	}
	if err := sys.CleanupTerminated("p1"); err == nil {
		t.Error("second CleanupTerminated(p1) succeeded, want error")
	}
}
