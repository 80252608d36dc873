package supervisor

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentctl/agentctl/internal/model"
)

func TestBuildArgsEngineAPipesNewChat(t *testing.T) {
	argv, stdin, positional := buildArgs(SpawnOptions{
		Engine: model.EngineA, ProjectPath: "/proj", Prompt: "hello", IOMode: model.IOPipes,
	})
	want := "codex exec --full-auto --json -C /proj -"
	if got := strings.Join(argv, " "); got != want {
		t.Errorf("argv = %q, want %q", got, want)
	}
	if stdin != "hello\n" {
		t.Errorf("stdin = %q, want %q", stdin, "hello\n")
	}
	if positional {
		t.Error("pipes mode must not fold prompt into argv")
	}
}

func TestBuildArgsEngineAPipesResume(t *testing.T) {
	argv, _, _ := buildArgs(SpawnOptions{
		Engine: model.EngineA, ProjectPath: "/proj", Prompt: "hi", IOMode: model.IOPipes,
		ResumeSessionID: "sess-1",
	})
	want := "codex exec resume --full-auto --json -C /proj sess-1 -"
	if got := strings.Join(argv, " "); got != want {
		t.Errorf("argv = %q, want %q", got, want)
	}
}

func TestBuildArgsEngineATtyDropsJSONAndFoldsPrompt(t *testing.T) {
	argv, stdin, positional := buildArgs(SpawnOptions{
		Engine: model.EngineA, ProjectPath: "/proj", Prompt: "hello", IOMode: model.IOTty,
	})
	want := "codex exec --full-auto -C /proj hello"
	if got := strings.Join(argv, " "); got != want {
		t.Errorf("argv = %q, want %q", got, want)
	}
	if stdin != "" {
		t.Errorf("tty mode must not write stdin, got %q", stdin)
	}
	if !positional {
		t.Error("tty mode must fold prompt into argv")
	}
}

func TestBuildArgsEngineBPipes(t *testing.T) {
	argv, _, _ := buildArgs(SpawnOptions{
		Engine: model.EngineB, ProjectPath: "/proj", Prompt: "hello", IOMode: model.IOPipes,
	})
	want := "claude --dangerously-skip-permissions --verbose --output-format stream-json -p hello"
	if got := strings.Join(argv, " "); got != want {
		t.Errorf("argv = %q, want %q", got, want)
	}
}

func TestBuildArgsEngineBTty(t *testing.T) {
	argv, _, positional := buildArgs(SpawnOptions{
		Engine: model.EngineB, ProjectPath: "/proj", Prompt: "hello", IOMode: model.IOTty,
	})
	want := "claude --dangerously-skip-permissions --verbose hello"
	if got := strings.Join(argv, " "); got != want {
		t.Errorf("argv = %q, want %q", got, want)
	}
	if !positional {
		t.Error("tty mode must fold prompt into argv")
	}
}

func TestParseSessionMetaLine(t *testing.T) {
	line := []byte(`{"timestamp":"2026-02-02T23:57:58.860Z","type":"session_meta","payload":{"id":"019c20ca-abc","timestamp":"2026-02-02T23:57:58.860Z","cwd":"/tmp"}}`)
	id, ts, ok := parseSessionMetaLine(line)
	if !ok {
		t.Fatal("expected a parsed session_meta line")
	}
	if id != "019c20ca-abc" {
		t.Errorf("id = %q", id)
	}
	if ts != "2026-02-02T23:57:58.860Z" {
		t.Errorf("timestamp = %q", ts)
	}
}

func TestParseSessionMetaLineRejectsOtherTypes(t *testing.T) {
	_, _, ok := parseSessionMetaLine([]byte(`{"type":"event_msg","payload":{}}`))
	if ok {
		t.Fatal("expected rejection of a non-meta line")
	}
}

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available in PATH")
	}
}

func TestSpawnPipesCorrelatesSessionLog(t *testing.T) {
	requireSh(t)

	stateDir := t.TempDir()
	sessionsRoot := t.TempDir()

	metaTime := time.Now().UTC()
	dayDir := filepath.Join(sessionsRoot,
		metaTime.Format("2006"), metaTime.Format("01"), metaTime.Format("02"))
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	sessionID := "abc123"
	logPath := filepath.Join(dayDir, "rollout-2026-01-01T00-00-00-"+sessionID+".jsonl")
	if err := os.WriteFile(logPath, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	metaLine := `{"type":"session_meta","payload":{"id":"` + sessionID + `","timestamp":"` + metaTime.Format(time.RFC3339) + `"}}`

	// A real codex binary is unlikely to exist in the test environment,
	// so a plain `sh` stands in for the child, echoing a session_meta
	// frame through the same tailPipe/correlateSessionLog plumbing that
	// Spawn wires up for a real engine-A child.
	sup2 := New(stateDir, EngineRoots{model.EngineA: sessionsRoot})
	proc := &process{
		record: model.ProcessRecord{ID: "p1", Engine: model.EngineA, Status: model.ProcessRunning},
		cmd:    exec.Command("sh", "-c", "echo '"+metaLine+"'; sleep 0.2"),
		waitDone: make(chan struct{}),
	}
	sup2.mu.Lock()
	sup2.processes["p1"] = proc
	sup2.mu.Unlock()

	combinedPath := filepath.Join(t.TempDir(), "process.log")
	combined, err := os.Create(combinedPath)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer combined.Close()

	if err := sup2.spawnPipes(proc, proc.cmd, combined, t.TempDir()); err != nil {
		t.Fatalf("spawnPipes: %v", err)
	}
	go sup2.waitForExit(proc)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if proc.snapshot().SessionLogPath == logPath {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("session log path was not correlated, got %+v", proc.snapshot())
}

func TestKillMissingProcessReturnsNotFound(t *testing.T) {
	sup := New(t.TempDir(), EngineRoots{})
	err := sup.Kill("does-not-exist")
	if err == nil {
		t.Fatal("expected an error for a missing process")
	}
}

func TestPollExitsReportsEachExitOnce(t *testing.T) {
	requireSh(t)

	sup := New(t.TempDir(), EngineRoots{})
	proc := &process{
		record:   model.ProcessRecord{ID: "p1", Status: model.ProcessRunning},
		cmd:      exec.Command("sh", "-c", "true"),
		waitDone: make(chan struct{}),
	}
	if startErr := proc.cmd.Start(); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}
	sup.mu.Lock()
	sup.processes["p1"] = proc
	sup.mu.Unlock()
	go sup.waitForExit(proc)

	deadline := time.Now().Add(3 * time.Second)
	var seen []model.ProcessRecord
	for time.Now().Before(deadline) && len(seen) == 0 {
		seen = sup.PollExits()
		time.Sleep(50 * time.Millisecond)
	}
	if len(seen) != 1 {
		t.Fatalf("expected exactly one exit report, got %d", len(seen))
	}
	if more := sup.PollExits(); len(more) != 0 {
		t.Fatalf("expected no further exit reports, got %d", len(more))
	}
}
