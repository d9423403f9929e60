package cli

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sugawarayuuta/sonnet"

	"github.com/rzbill/fmq/pkg/fmq"
)

type harness struct {
	t       *testing.T
	dataDir string
	queue   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	return &harness{t: t, dataDir: filepath.Join(dir, "state"), queue: filepath.Join(dir, "q.fmq")}
}

// run executes the root command and returns stdout and stderr.
func (h *harness) run(stdin string, args ...string) (string, string, error) {
	h.t.Helper()
	root := NewRoot()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--data-dir", h.dataDir, "--log-level", "warn"))
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func (h *harness) mustRun(stdin string, args ...string) string {
	h.t.Helper()
	out, errOut, err := h.run(stdin, args...)
	if err != nil {
		h.t.Fatalf("fmq %s: %v (stderr: %s)", strings.Join(args, " "), err, errOut)
	}
	return out
}

func TestCreateWriteRead(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("", "create", h.queue, "--slots", "8", "--buffer-size", "4096")
	if !strings.Contains(out, "slots=8") {
		t.Fatalf("create output: %s", out)
	}
	if _, _, err := h.run("", "create", h.queue, "--slots", "8", "--buffer-size", "4096"); !errors.Is(err, fmq.ErrAlreadyExists) {
		t.Fatalf("second create: %v", err)
	}

	if out := h.mustRun("", "write", h.queue, "--type", "2", "--data", "hello"); out != "id: 0\n" {
		t.Fatalf("write output: %q", out)
	}
	out = h.mustRun("one\ntwo\n", "write", h.queue, "--lines", "--compression", "zstd")
	if out != "id: 1\nid: 2\n" {
		t.Fatalf("write --lines output: %q", out)
	}

	out = h.mustRun("", "read", h.queue)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasSuffix(lines[0], "\thello") || !strings.HasPrefix(lines[0], "0\t2\t0\t") || !strings.HasSuffix(lines[2], "\ttwo") {
		t.Fatalf("read output: %q", out)
	}

	out = h.mustRun("", "read", h.queue, "--from", "1", "--limit", "1")
	if !strings.HasPrefix(out, "1\t") || strings.Count(out, "\n") != 1 {
		t.Fatalf("read --from 1: %q", out)
	}
	out = h.mustRun("", "read", h.queue, "--from", "last")
	if !strings.HasSuffix(strings.TrimSpace(out), "\ttwo") || strings.Count(out, "\n") != 1 {
		t.Fatalf("read --from last: %q", out)
	}
}

func TestReadFiltersAndJSON(t *testing.T) {
	h := newHarness(t)
	h.mustRun("", "create", h.queue, "--slots", "8", "--buffer-size", "4096")
	h.mustRun("", "write", h.queue, "--type", "1", "--data", `{"level":"info"}`)
	h.mustRun("", "write", h.queue, "--type", "1", "--data", `{"level":"error"}`)
	h.mustRun("", "write", h.queue, "--type", "2", "--data", "plain")

	out := h.mustRun("", "read", h.queue, "--json", "--filter", `json.level == "error"`)
	var m map[string]any
	if err := sonnet.Unmarshal([]byte(strings.TrimSpace(out)), &m); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if m["id"] != float64(1) || m["payload_json"].(map[string]any)["level"] != "error" {
		t.Fatalf("json output: %v", m)
	}

	out = h.mustRun("", "read", h.queue, "--type", "2")
	if !strings.HasSuffix(strings.TrimSpace(out), "\tplain") || strings.Count(out, "\n") != 1 {
		t.Fatalf("read --type 2: %q", out)
	}
	if _, _, err := h.run("", "read", h.queue, "--filter", "msg_type =="); err == nil {
		t.Fatalf("expected a filter compile error")
	}
}

func TestReadCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.mustRun("", "create", h.queue, "--slots", "8", "--buffer-size", "4096")
	h.mustRun("a\nb\nc\n", "write", h.queue, "--lines")

	out := h.mustRun("", "read", h.queue, "--name", "ops", "--commit", "--limit", "2")
	if strings.Count(out, "\n") != 2 {
		t.Fatalf("first read: %q", out)
	}
	out = h.mustRun("", "read", h.queue, "--name", "ops", "--commit")
	if !strings.HasPrefix(out, "2\t") || strings.Count(out, "\n") != 1 {
		t.Fatalf("resumed read: %q", out)
	}
	out = h.mustRun("", "cursor", "list", h.queue)
	if !strings.Contains(out, "ops") || !strings.Contains(out, "2") {
		t.Fatalf("cursor list: %q", out)
	}
	h.mustRun("", "cursor", "reset", h.queue, "ops")
	out = h.mustRun("", "read", h.queue, "--name", "ops")
	if strings.Count(out, "\n") != 3 {
		t.Fatalf("read after reset: %q", out)
	}
	if _, _, err := h.run("", "read", h.queue, "--commit"); !errors.Is(err, fmq.ErrInvalidConfig) {
		t.Fatalf("--commit without --name: %v", err)
	}
}

func TestStatCheckRecoverClear(t *testing.T) {
	h := newHarness(t)
	h.mustRun("", "create", h.queue, "--slots", "4", "--buffer-size", "1024")
	h.mustRun("a\nb\nc\nd\ne\n", "write", h.queue, "--lines")

	out := h.mustRun("", "stat", h.queue, "--slots")
	if !strings.Contains(out, "slots:       4/4") || !strings.Contains(out, "oldest id:   1") || !strings.Contains(out, "SLOT") {
		t.Fatalf("stat output: %s", out)
	}
	out = h.mustRun("", "stat", h.queue, "--json", "--slots")
	var v statView
	if err := sonnet.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode stat: %v", err)
	}
	if v.Status.YoungestID != 4 || len(v.Slots) != 4 || v.Slots[0].ID != 1 {
		t.Fatalf("stat json: %+v", v)
	}

	if out := h.mustRun("", "check", h.queue); !strings.HasPrefix(out, "ok: active=4") {
		t.Fatalf("check output: %q", out)
	}
	if out := h.mustRun("", "recover", h.queue); out == "" {
		t.Fatalf("empty recover output")
	}

	h.mustRun("", "clear", h.queue)
	if out := h.mustRun("", "read", h.queue); out != "" {
		t.Fatalf("read after clear: %q", out)
	}
	if out := h.mustRun("", "write", h.queue, "--data", "f"); out != "id: 5\n" {
		t.Fatalf("id after clear: %q", out)
	}
}

func TestArchiveDrainReadTrim(t *testing.T) {
	h := newHarness(t)
	h.mustRun("", "create", h.queue, "--slots", "8", "--buffer-size", "4096")
	h.mustRun("a\nb\nc\n", "write", h.queue, "--lines")

	out := h.mustRun("", "archive", "drain", h.queue, "--batch", "2")
	if !strings.HasPrefix(out, "archived 3 messages in 2 batches") {
		t.Fatalf("drain output: %q", out)
	}
	h.mustRun("d\n", "write", h.queue, "--lines")
	if out := h.mustRun("", "archive", "drain", h.queue); !strings.HasPrefix(out, "archived 1 messages") {
		t.Fatalf("second drain: %q", out)
	}

	out = h.mustRun("", "archive", "read", h.queue, "--reverse", "--limit", "1", "--json")
	var m map[string]any
	if err := sonnet.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if m["seq"] != float64(4) || m["id"] != float64(3) || m["payload_text"] != "d" {
		t.Fatalf("archive read: %v", m)
	}

	if _, _, err := h.run("", "archive", "trim", h.queue); !errors.Is(err, fmq.ErrInvalidConfig) {
		t.Fatalf("trim without limits: %v", err)
	}
	out = h.mustRun("", "archive", "trim", h.queue, "--max-bytes", "1")
	if !strings.HasSuffix(strings.TrimSpace(out), "-> 0 bytes") {
		t.Fatalf("trim output: %q", out)
	}
}
