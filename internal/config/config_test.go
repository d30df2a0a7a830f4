package config

import (
	"strings"
	"testing"
)

const validConfig = `
num-cpu=4
scheduler=rr
batch-process-freq=1
min-ins=1
max-ins=10
delays-per-exec=0
quantum-cycles=5
max-overall-mem=64
mem-per-frame=16
min-mem-per-proc=64
max-mem-per-proc=64
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := parse(strings.NewReader(validConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.NumCPU != 4 {
		t.Errorf("NumCPU = %d, want 4", cfg.NumCPU)
	}
	if cfg.Scheduler != RR {
		t.Errorf("Scheduler = %v, want RR", cfg.Scheduler)
	}
	if cfg.MemPerFrame != 16 {
		t.Errorf("MemPerFrame = %d, want 16", cfg.MemPerFrame)
	}
}

func TestParseIgnoresBlankLinesAndComments(t *testing.T) {
	text := "# a comment\n\n" + validConfig
	cfg, err := parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.NumCPU != 4 {
		t.Errorf("NumCPU = %d, want 4", cfg.NumCPU)
	}
}

func TestParseMissingKeyReportsAllErrors(t *testing.T) {
	_, err := parse(strings.NewReader("num-cpu=4\n"))
	if err == nil {
		t.Fatal("parse succeeded, want error for missing keys")
	}
	if !strings.Contains(err.Error(), "scheduler") {
		t.Errorf("error %q missing mention of scheduler", err.Error())
	}
	if !strings.Contains(err.Error(), "max-mem-per-proc") {
		t.Errorf("error %q missing mention of max-mem-per-proc", err.Error())
	}
}

func TestParseRejectsFrameNotDividingOverallMemory(t *testing.T) {
	text := strings.ReplaceAll(validConfig, "max-overall-mem=64", "max-overall-mem=65")
	_, err := parse(strings.NewReader(text))
	if err == nil {
		t.Fatal("parse succeeded, want error for non-dividing frame size")
	}
}

func TestParseRejectsMinGreaterThanMax(t *testing.T) {
	text := strings.ReplaceAll(validConfig, "min-ins=1", "min-ins=20")
	_, err := parse(strings.NewReader(text))
	if err == nil {
		t.Fatal("parse succeeded, want error for min-ins > max-ins")
	}
}

func TestParseMissingEqualsIsAnError(t *testing.T) {
	_, err := parse(strings.NewReader("not-a-kv-pair\n"))
	if err == nil {
		t.Fatal("parse succeeded, want error for malformed line")
	}
}

func TestParseDefaultsAllocatorToPaging(t *testing.T) {
	cfg, err := parse(strings.NewReader(validConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Allocator != PagingAllocator {
		t.Errorf("Allocator = %v, want PagingAllocator", cfg.Allocator)
	}
}

func TestParseAcceptsFlatAllocator(t *testing.T) {
	text := validConfig + "allocator=flat\n"
	cfg, err := parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Allocator != FlatAllocator {
		t.Errorf("Allocator = %v, want FlatAllocator", cfg.Allocator)
	}
}

func TestParseRejectsUnknownAllocator(t *testing.T) {
	text := validConfig + "allocator=bogus\n"
	if _, err := parse(strings.NewReader(text)); err == nil {
		t.Fatal("parse succeeded, want error for unknown allocator")
	}
}
