// Package config loads the simulator's config.txt: line oriented
// key=value pairs, blank lines and '#' comments ignored, every key
// required except the optional allocator key. Grounded on the teacher's config/configparser line-scanning
// style, generalized from a device-model grammar to a flat key=value one.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	multierror "github.com/hashicorp/go-multierror"
)

// Algorithm selects the scheduling policy.
type Algorithm int

const (
	FCFS Algorithm = iota
	RR
)

func (a Algorithm) String() string {
	if a == RR {
		return "rr"
	}
	return "fcfs"
}

// AllocatorKind selects which memory.Allocator implementation backs the
// simulator, per spec.md §9's "Polymorphic allocator" design note.
type AllocatorKind int

const (
	PagingAllocator AllocatorKind = iota
	FlatAllocator
)

func (k AllocatorKind) String() string {
	if k == FlatAllocator {
		return "flat"
	}
	return "paging"
}

// Config holds every validated config.txt setting.
type Config struct {
	NumCPU           int
	Scheduler        Algorithm
	BatchProcessFreq uint32
	MinIns           uint32
	MaxIns           uint32
	DelaysPerExec    uint32
	QuantumCycles    uint32
	MaxOverallMem    uint32
	MemPerFrame      uint32
	MinMemPerProc    uint32
	MaxMemPerProc    uint32
	Allocator        AllocatorKind
}

// raw holds the string form of every key before validation.
type raw map[string]string

// Load reads and validates a config.txt file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) (*Config, error) {
	values := raw{}
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("config line %d: missing '='", lineNumber)
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var errs error
	cfg := &Config{}

	requireInt := func(key string, min int, dst *int) {
		s, ok := values[key]
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("missing required key %q", key))
			return
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("key %q: not an integer: %q", key, s))
			return
		}
		if n < min {
			errs = multierror.Append(errs, fmt.Errorf("key %q: must be >= %d, got %d", key, min, n))
			return
		}
		*dst = n
	}

	requireUint := func(key string, min uint32, dst *uint32) {
		s, ok := values[key]
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("missing required key %q", key))
			return
		}
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("key %q: not an unsigned integer: %q", key, s))
			return
		}
		if uint32(n) < min {
			errs = multierror.Append(errs, fmt.Errorf("key %q: must be >= %d, got %d", key, min, n))
			return
		}
		*dst = uint32(n)
	}

	numCPU := 0
	requireInt("num-cpu", 1, &numCPU)
	cfg.NumCPU = numCPU

	if sched, ok := values["scheduler"]; ok {
		switch strings.ToLower(sched) {
		case "fcfs":
			cfg.Scheduler = FCFS
		case "rr":
			cfg.Scheduler = RR
		default:
			errs = multierror.Append(errs, fmt.Errorf("key \"scheduler\": must be \"fcfs\" or \"rr\", got %q", sched))
		}
	} else {
		errs = multierror.Append(errs, fmt.Errorf("missing required key %q", "scheduler"))
	}

	requireUint("batch-process-freq", 0, &cfg.BatchProcessFreq)
	requireUint("min-ins", 1, &cfg.MinIns)
	requireUint("max-ins", 1, &cfg.MaxIns)
	requireUint("delays-per-exec", 0, &cfg.DelaysPerExec)
	requireUint("quantum-cycles", 1, &cfg.QuantumCycles)
	requireUint("max-overall-mem", 1, &cfg.MaxOverallMem)
	requireUint("mem-per-frame", 1, &cfg.MemPerFrame)
	requireUint("min-mem-per-proc", 64, &cfg.MinMemPerProc)
	requireUint("max-mem-per-proc", 64, &cfg.MaxMemPerProc)

	// allocator is optional and defaults to the demand-paging allocator;
	// set to "flat" to use the single-contiguous-arena allocator instead.
	if kind, ok := values["allocator"]; ok {
		switch strings.ToLower(kind) {
		case "paging", "":
			cfg.Allocator = PagingAllocator
		case "flat":
			cfg.Allocator = FlatAllocator
		default:
			errs = multierror.Append(errs, fmt.Errorf("key \"allocator\": must be \"paging\" or \"flat\", got %q", kind))
		}
	} else {
		cfg.Allocator = PagingAllocator
	}

	if errs != nil {
		return nil, errs
	}

	if cfg.MinIns > cfg.MaxIns {
		errs = multierror.Append(errs, fmt.Errorf("min-ins (%d) must be <= max-ins (%d)", cfg.MinIns, cfg.MaxIns))
	}
	if cfg.MinMemPerProc > cfg.MaxMemPerProc {
		errs = multierror.Append(errs, fmt.Errorf("min-mem-per-proc (%d) must be <= max-mem-per-proc (%d)", cfg.MinMemPerProc, cfg.MaxMemPerProc))
	}
	if cfg.MaxOverallMem%cfg.MemPerFrame != 0 {
		errs = multierror.Append(errs, fmt.Errorf("mem-per-frame (%d) must divide max-overall-mem (%d)", cfg.MemPerFrame, cfg.MaxOverallMem))
	}

	if errs != nil {
		return nil, errs
	}
	return cfg, nil
}
