package console

import (
	"fmt"
	"strings"

	"github.com/coresim/coresim/internal/process"
)

// parseInstructions parses a "<i1; i2; ...>" explicit instruction body
// into ParsedCommands, per spec.md §6's screen -c contract.
func parseInstructions(body string) ([]process.ParsedCommand, error) {
	parts := strings.Split(body, ";")
	cmds := make([]process.ParsedCommand, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		cmd, err := parseOneInstruction(part, i)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	if len(cmds) == 0 {
		return nil, fmt.Errorf("no instructions given")
	}
	return cmds, nil
}

func parseOneInstruction(line string, idx int) (process.ParsedCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return process.ParsedCommand{}, fmt.Errorf("empty instruction at position %d", idx)
	}
	op := strings.ToUpper(fields[0])
	args := fields[1:]

	switch op {
	case "PRINT":
		msg := strings.Trim(strings.TrimPrefix(line, fields[0]), " \"")
		return process.ParsedCommand{Type: process.Print, Args: []string{msg}, SourceLine: idx}, nil
	case "DECLARE":
		if len(args) != 2 {
			return process.ParsedCommand{}, fmt.Errorf("DECLARE expects 2 arguments, got %d", len(args))
		}
		return process.ParsedCommand{Type: process.Declare, Args: args, SourceLine: idx}, nil
	case "ADD":
		if len(args) != 3 {
			return process.ParsedCommand{}, fmt.Errorf("ADD expects 3 arguments, got %d", len(args))
		}
		return process.ParsedCommand{Type: process.Add, Args: args, SourceLine: idx}, nil
	case "SUBTRACT":
		if len(args) != 3 {
			return process.ParsedCommand{}, fmt.Errorf("SUBTRACT expects 3 arguments, got %d", len(args))
		}
		return process.ParsedCommand{Type: process.Subtract, Args: args, SourceLine: idx}, nil
	case "SLEEP":
		if len(args) != 1 {
			return process.ParsedCommand{}, fmt.Errorf("SLEEP expects 1 argument, got %d", len(args))
		}
		return process.ParsedCommand{Type: process.Sleep, Args: args, SourceLine: idx}, nil
	case "FOR":
		if len(args) != 4 {
			return process.ParsedCommand{}, fmt.Errorf("FOR expects 4 arguments, got %d", len(args))
		}
		return process.ParsedCommand{Type: process.For, Args: args, SourceLine: idx}, nil
	case "END_FOR":
		return process.ParsedCommand{Type: process.EndFor, SourceLine: idx}, nil
	case "WRITE":
		if len(args) != 2 {
			return process.ParsedCommand{}, fmt.Errorf("WRITE expects 2 arguments, got %d", len(args))
		}
		return process.ParsedCommand{Type: process.Write, Args: args, SourceLine: idx}, nil
	case "READ":
		if len(args) != 2 {
			return process.ParsedCommand{}, fmt.Errorf("READ expects 2 arguments, got %d", len(args))
		}
		return process.ParsedCommand{Type: process.Read, Args: args, SourceLine: idx}, nil
	default:
		return process.ParsedCommand{}, fmt.Errorf("unrecognized instruction %q at position %d", op, idx)
	}
}
