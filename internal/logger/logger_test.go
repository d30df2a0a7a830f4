package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestHandleWritesToFileAndEchoesWarnToStderr(t *testing.T) {
	var file, errw bytes.Buffer
	h := New(&file, &errw, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := slog.New(h)

	log.Info("hello", "key", "value")
	if !strings.Contains(file.String(), "hello") {
		t.Errorf("file output = %q, want it to contain %q", file.String(), "hello")
	}
	if !strings.Contains(file.String(), "key=value") {
		t.Errorf("file output = %q, want it to contain key=value", file.String())
	}
	if errw.Len() != 0 {
		t.Errorf("stderr output = %q, want empty for an Info record with debug off", errw.String())
	}

	log.Warn("uh oh")
	if !strings.Contains(errw.String(), "uh oh") {
		t.Errorf("stderr output = %q, want it to contain %q", errw.String(), "uh oh")
	}
}

func TestSetDebugMirrorsInfoToStderr(t *testing.T) {
	var file, errw bytes.Buffer
	h := New(&file, &errw, &slog.HandlerOptions{Level: slog.LevelDebug})
	h.SetDebug(true)
	log := slog.New(h)

	log.Info("debug mirrored")
	if !strings.Contains(errw.String(), "debug mirrored") {
		t.Errorf("stderr output = %q, want it to contain %q", errw.String(), "debug mirrored")
	}
}

func TestHandleToleratesNilFile(t *testing.T) {
	var errw bytes.Buffer
	h := New(nil, &errw, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := slog.New(h)

	log.Warn("no file configured")
	if !strings.Contains(errw.String(), "no file configured") {
		t.Errorf("stderr output = %q, want it to contain %q", errw.String(), "no file configured")
	}
}
