package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)

	err := root.ExecuteContext(t.Context())

	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}

	if out != "scgkit version dev\n" {
		t.Fatalf("out=%q", out)
	}
}

func TestRun_DefaultConfig(t *testing.T) {
	out, err := execute(t, "run", "--for", "300ms")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}

	for _, want := range []string{
		"Service execution-thread started in ",
		"Service idle started in ",
		"Service scheduled started in ",
		"Listener1 received event Event1",
		"Listener1 received dead event Banana from Bus-",
		"Listener1 unregistered; Event2 was not delivered to it",
		"service idle: TERMINATED",
		"service scheduled: TERMINATED",
		"dead letters recorded: 2",
		"scgkit.bus.dead_letters 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRun_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kit.toml")
	body := `
[bus]
name = "Bus-cli"
sequential = true

[[sinks]]
kind = "memory"

[schedules.fast]
kind = "fixed_delay"
period = "20ms"

[[services]]
name = "slow"
kind = "idle"
startup_delay = "30ms"

[[services]]
name = "poller"
kind = "scheduled"
schedule = "fast"

[log]
level = "warn"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := execute(t, "run", "--config", path, "--for", "200ms")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}

	if !strings.Contains(out, "from Bus-cli") || !strings.Contains(out, "service poller: TERMINATED") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	if strings.Contains(out, "Service slow started in 0 millis") {
		t.Fatalf("startup delay not reflected:\n%s", out)
	}
}

func TestRun_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kit.yaml")
	if err := os.WriteFile(path, []byte("sinks:\n  - kind: smoke-signal\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := execute(t, "run", "--config", path); err == nil || !strings.Contains(err.Error(), "unknown sink kind") {
		t.Fatalf("err=%v", err)
	}
}
