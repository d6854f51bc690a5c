package runner

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestExec_CapturesOutput(t *testing.T) {
	out, errb, err := Exec{}.Run(context.Background(), "sh", "-c", "echo page; echo warn >&2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(string(out)) != "page" {
		t.Errorf("stdout = %q, want %q", out, "page")
	}
	if strings.TrimSpace(string(errb)) != "warn" {
		t.Errorf("stderr = %q, want %q", errb, "warn")
	}
}

func TestExec_NonZeroExit(t *testing.T) {
	_, _, err := Exec{}.Run(context.Background(), "sh", "-c", "exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
}

func TestExec_ContextKillsProcess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := Exec{}.Run(ctx, "sleep", "5")
	if err == nil {
		t.Fatal("expected error when context expires")
	}
	if time.Since(start) > 3*time.Second {
		t.Error("process was not killed on context expiry")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("0123456789abc", 10); got != "0123456789...(truncated)" {
		t.Errorf("Truncate = %q", got)
	}
}
