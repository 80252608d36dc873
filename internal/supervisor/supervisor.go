// Package supervisor spawns child agent processes (Pipes or Tty mode),
// streams their output to disk, correlates engine-A children to their
// on-disk session log, and exposes byte-offset log tailing and kill
// (spec §4.8).
package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"github.com/google/shlex"
	"github.com/tidwall/gjson"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/agentctl/agentctl/internal/model"
)

const (
	readBufSize        = 4096
	ttyMetaLineCap     = 512 * 1024
	sessionPollTimeout = 20 * time.Second
	sessionPollTick    = 200 * time.Millisecond
	maxLogReadBytes    = 32 * 1024
)

// EngineRoots maps each engine to the directory tree the scanner reads
// sessions from, used both to inject the child's env var and to search
// for the freshly-created session log file.
type EngineRoots map[model.SessionEngine]string

var envVarForEngine = map[model.SessionEngine]string{
	model.EngineA: "CCBOX_SESSIONS_DIR",
	model.EngineB: "CLAUDE_PROJECTS_DIR",
	model.EngineC: "CCBOX_GEMINI_DIR",
	model.EngineD: "CCBOX_OPENCODE_DB_PATH",
}

// SpawnOptions describes one agents.spawn / tasks.spawn request.
type SpawnOptions struct {
	Engine          model.SessionEngine `json:"engine"`
	ProjectPath     string              `json:"project_path"`
	Prompt          string              `json:"prompt"`
	IOMode          model.IOMode        `json:"io_mode"`
	ResumeSessionID string              `json:"resume_session_id,omitempty"` // engine A only
	ExtraArgs       string              `json:"extra_args,omitempty"`        // shell-style extra args, split with shlex
}

// process is the supervisor's internal record: the public ProcessRecord
// plus the runtime handles needed to drive it.
type process struct {
	mu     sync.Mutex
	record model.ProcessRecord

	cmd  *exec.Cmd
	ptmx *os.File // Tty mode only

	broadcaster *broadcaster // Tty mode only, for attach_tty_output

	waitOnce sync.Once
	waitDone chan struct{}
	reported atomic.Bool // true once PollExits has returned this exit once
}

func (p *process) snapshot() model.ProcessRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record
}

// Supervisor owns every live and recently-exited process.
type Supervisor struct {
	stateDir string
	roots    EngineRoots

	mu        sync.Mutex
	processes map[string]*process
	nextID    int
}

// New creates a supervisor rooted at stateDir, using roots to inject
// each engine's session-directory env var and to search for newly
// created engine-A session logs.
func New(stateDir string, roots EngineRoots) *Supervisor {
	return &Supervisor{
		stateDir:  stateDir,
		roots:     roots,
		processes: make(map[string]*process),
	}
}

func (s *Supervisor) allocateID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return "p" + strconv.Itoa(s.nextID)
}

// Spawn starts a new child process per opts and returns its initial
// ProcessRecord. SessionID/SessionLogPath are filled in asynchronously
// once (and if) the child emits a session_meta frame.
func (s *Supervisor) Spawn(opts SpawnOptions) (model.ProcessRecord, error) {
	id := s.allocateID()
	startedAt := time.Now().UTC()

	procDir := filepath.Join(s.stateDir, "processes", id)
	if err := os.MkdirAll(procDir, 0o755); err != nil {
		return model.ProcessRecord{}, apperr.WithPath(apperr.CodeCreateDir, procDir, err)
	}

	argv, stdinText, usesPositionalPrompt := buildArgs(opts)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.ProjectPath
	cmd.Env = append(os.Environ(), envAssignment(opts.Engine, s.roots))

	rec := model.ProcessRecord{
		ID:          id,
		Engine:      opts.Engine,
		ProjectPath: opts.ProjectPath,
		StartedAt:   startedAt,
		IOMode:      opts.IOMode,
		Status:      model.ProcessRunning,
	}

	if err := writePromptFile(procDir, opts.Prompt); err != nil {
		log.Printf("supervisor: writing prompt file for %s: %v", id, err)
	}

	combinedPath := filepath.Join(procDir, "process.log")
	rec.CombinedLogPath = combinedPath
	combined, err := os.OpenFile(combinedPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return model.ProcessRecord{}, apperr.WithPath(apperr.CodeWriteFile, combinedPath, err)
	}
	if _, err := combined.WriteString(preamble(opts.Engine, opts.ProjectPath, startedAt)); err != nil {
		log.Printf("supervisor: writing preamble for %s: %v", id, err)
	}

	p := &process{record: rec, cmd: cmd, waitDone: make(chan struct{})}

	switch opts.IOMode {
	case model.IOTty:
		if err := s.spawnTty(p, cmd, combined, procDir); err != nil {
			combined.Close()
			return model.ProcessRecord{}, err
		}
	default:
		if !usesPositionalPrompt && stdinText != "" {
			cmd.Stdin = strings.NewReader(stdinText)
		}
		if err := s.spawnPipes(p, cmd, combined, procDir); err != nil {
			combined.Close()
			return model.ProcessRecord{}, err
		}
	}

	s.mu.Lock()
	s.processes[id] = p
	s.mu.Unlock()

	go s.waitForExit(p)

	return p.snapshot(), nil
}

func writePromptFile(procDir, prompt string) error {
	return os.WriteFile(filepath.Join(procDir, "prompt.txt"), []byte(prompt), 0o644)
}

func preamble(engine model.SessionEngine, projectPath string, startedAt time.Time) string {
	return fmt.Sprintf("engine: %s\nproject: %s\nstarted_at: %s\n---\n",
		engine, projectPath, startedAt.Format(time.RFC3339))
}

func envAssignment(engine model.SessionEngine, roots EngineRoots) string {
	name, ok := envVarForEngine[engine]
	if !ok {
		return ""
	}
	return name + "=" + roots[engine]
}

// buildArgs constructs the fixed CLI argument shape for one engine/mode
// combination (spec §6.2). It returns the argv, the text to feed on
// stdin for Pipes-mode new chats, and whether the prompt was already
// folded into argv as a positional argument (Tty mode).
func buildArgs(opts SpawnOptions) (argv []string, stdinText string, positionalPrompt bool) {
	var extra []string
	if opts.ExtraArgs != "" {
		if parsed, err := shlex.Split(opts.ExtraArgs); err == nil {
			extra = parsed
		}
	}

	tty := opts.IOMode == model.IOTty

	switch opts.Engine {
	case model.EngineA:
		argv = []string{"codex", "exec"}
		if opts.ResumeSessionID != "" {
			argv = append(argv, "resume")
		}
		argv = append(argv, "--full-auto")
		if !tty {
			argv = append(argv, "--json")
		}
		argv = append(argv, extra...)
		argv = append(argv, "-C", opts.ProjectPath)
		if opts.ResumeSessionID != "" {
			argv = append(argv, opts.ResumeSessionID)
		}
		if tty {
			if opts.Prompt != "" {
				argv = append(argv, opts.Prompt)
				positionalPrompt = true
			}
		} else {
			argv = append(argv, "-")
			stdinText = opts.Prompt + "\n"
		}

	case model.EngineB:
		argv = []string{"claude", "--dangerously-skip-permissions", "--verbose"}
		if !tty {
			argv = append(argv, "--output-format", "stream-json")
		}
		argv = append(argv, extra...)
		if tty {
			if opts.Prompt != "" {
				argv = append(argv, opts.Prompt)
				positionalPrompt = true
			}
		} else {
			argv = append(argv, "-p", opts.Prompt)
		}

	default:
		argv = []string{string(opts.Engine)}
	}

	return argv, stdinText, positionalPrompt
}

// spawnPipes starts cmd with stdout/stderr captured to separate files
// plus the tagged combined log, per-stream reader goroutines, and
// engine-A session correlation from the stdout stream.
func (s *Supervisor) spawnPipes(p *process, cmd *exec.Cmd, combined *os.File, procDir string) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	stdoutPath := filepath.Join(procDir, "stdout.log")
	stderrPath := filepath.Join(procDir, "stderr.log")
	stdoutFile, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return apperr.WithPath(apperr.CodeWriteFile, stdoutPath, err)
	}
	stderrFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		stdoutFile.Close()
		return apperr.WithPath(apperr.CodeWriteFile, stderrPath, err)
	}

	p.mu.Lock()
	p.record.StdoutPath = stdoutPath
	p.record.StderrPath = stderrPath
	p.mu.Unlock()

	if err := cmd.Start(); err != nil {
		stdoutFile.Close()
		stderrFile.Close()
		return err
	}

	var combinedMu sync.Mutex
	metaFound := &atomic.Bool{}

	go s.tailPipe(p, stdout, stdoutFile, combined, &combinedMu, "[stdout]", metaFound)
	go s.tailPipe(p, stderr, stderrFile, combined, &combinedMu, "[stderr]", nil)

	return nil
}

// tailPipe reads r line by line, writing each line to dedicated and
// combined logs. When detectMeta is non-nil (the stdout stream) the
// first session_meta frame records the session id and, for an engine-A
// child, triggers session correlation.
func (s *Supervisor) tailPipe(p *process, r io.Reader, dedicated, combined *os.File, combinedMu *sync.Mutex, tag string, detectMeta *atomic.Bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, readBufSize), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(dedicated, line)

		combinedMu.Lock()
		fmt.Fprintf(combined, "%s %s\n", tag, line)
		combinedMu.Unlock()

		if detectMeta != nil && !detectMeta.Load() {
			if sessionID, ts, ok := parseSessionMetaLine([]byte(line)); ok {
				detectMeta.Store(true)
				p.mu.Lock()
				p.record.SessionID = sessionID
				engine := p.record.Engine
				p.mu.Unlock()
				if engine == model.EngineA {
					go s.correlateSessionLog(p, sessionID, ts)
				}
			}
		}
	}
}

// spawnTty opens a 24x80 PTY, spawns cmd attached to the slave side,
// and streams the master into the combined transcript and an optional
// broadcast channel for live attach.
func (s *Supervisor) spawnTty(p *process, cmd *exec.Cmd, combined *os.File, procDir string) error {
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		return err
	}

	transcriptPath := combined.Name()
	p.mu.Lock()
	p.ptmx = ptmx
	p.broadcaster = newBroadcaster()
	p.record.TranscriptPath = transcriptPath
	p.record.CombinedLogPath = combined.Name()
	p.mu.Unlock()

	go s.tailTty(p, ptmx, combined)

	return nil
}

func (s *Supervisor) tailTty(p *process, ptmx *os.File, combined *os.File) {
	defer combined.Close()
	buf := make([]byte, readBufSize)
	var metaBuf []byte
	metaFound := false

	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			combined.Write(chunk)

			p.mu.Lock()
			bc := p.broadcaster
			p.mu.Unlock()
			if bc != nil {
				bc.send(chunk)
			}

			if !metaFound {
				metaBuf = append(metaBuf, chunk...)
				if len(metaBuf) > ttyMetaLineCap {
					metaBuf = metaBuf[len(metaBuf)-ttyMetaLineCap:]
				}
				if idx := indexNewline(metaBuf); idx >= 0 {
					line := metaBuf[:idx]
					if sessionID, ts, ok := parseSessionMetaLine(line); ok {
						metaFound = true
						p.mu.Lock()
						p.record.SessionID = sessionID
						engine := p.record.Engine
						p.mu.Unlock()
						if engine == model.EngineA {
							go s.correlateSessionLog(p, sessionID, ts)
						}
					}
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func indexNewline(buf []byte) int {
	for i, b := range buf {
		if b == '\n' {
			return i
		}
	}
	return -1
}

// parseSessionMetaLine extracts {id, timestamp} from a raw A-Line
// session_meta record, as emitted verbatim by the child on its first
// stdout/pty line.
func parseSessionMetaLine(line []byte) (sessionID, timestamp string, ok bool) {
	v := gjson.ParseBytes(line)
	if v.Get("type").String() != "session_meta" {
		return "", "", false
	}
	payload := v.Get("payload")
	id := payload.Get("id")
	if !id.Exists() {
		return "", "", false
	}
	return id.String(), payload.Get("timestamp").String(), true
}

// correlateSessionLog searches the three UTC candidate day directories
// for the on-disk log whose filename contains sessionID, polling up to
// sessionPollTimeout.
func (s *Supervisor) correlateSessionLog(p *process, sessionID, metaTimestamp string) {
	root := s.roots[model.EngineA]
	if root == "" {
		return
	}
	metaTime, err := time.Parse(time.RFC3339, metaTimestamp)
	if err != nil {
		metaTime = time.Now().UTC()
	}
	metaTime = metaTime.UTC()

	days := []time.Time{metaTime, metaTime.AddDate(0, 0, 1), metaTime.AddDate(0, 0, -1)}

	deadline := time.Now().Add(sessionPollTimeout)
	for time.Now().Before(deadline) {
		for _, day := range days {
			dayDir := filepath.Join(root,
				fmt.Sprintf("%04d", day.Year()),
				fmt.Sprintf("%02d", day.Month()),
				fmt.Sprintf("%02d", day.Day()))
			entries, err := os.ReadDir(dayDir)
			if err != nil {
				continue
			}
			for _, entry := range entries {
				if strings.Contains(entry.Name(), sessionID) {
					p.mu.Lock()
					p.record.SessionLogPath = filepath.Join(dayDir, entry.Name())
					p.mu.Unlock()
					return
				}
			}
		}
		time.Sleep(sessionPollTick)
	}
}

func (s *Supervisor) waitForExit(p *process) {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	p.mu.Lock()
	p.record.Status = model.ProcessExited
	p.record.ExitCode = &code
	p.mu.Unlock()
	p.waitOnce.Do(func() { close(p.waitDone) })
}

// PollExits returns the ProcessRecord for every process that has
// exited since the last call to PollExits, per the maintenance-tick
// contract in spec §4.8.
func (s *Supervisor) PollExits() []model.ProcessRecord {
	s.mu.Lock()
	procs := make([]*process, 0, len(s.processes))
	for _, p := range s.processes {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	var out []model.ProcessRecord
	for _, p := range procs {
		select {
		case <-p.waitDone:
			if p.reported.CompareAndSwap(false, true) {
				out = append(out, p.snapshot())
			}
		default:
		}
	}
	return out
}

// List returns every known process, running or exited.
func (s *Supervisor) List() []model.ProcessRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ProcessRecord, 0, len(s.processes))
	for _, p := range s.processes {
		out = append(out, p.snapshot())
	}
	return out
}

// Get returns one process's current record.
func (s *Supervisor) Get(id string) (model.ProcessRecord, error) {
	s.mu.Lock()
	p, ok := s.processes[id]
	s.mu.Unlock()
	if !ok {
		return model.ProcessRecord{}, apperr.NotFound("process")
	}
	return p.snapshot(), nil
}

// ReadLog reads up to 32 KiB from stream starting at fromOffset,
// returning the bytes read and the offset the next call should use. An
// empty read returns fromOffset unchanged, matching the "leaves the
// offset unchanged" contract in spec §4.8.
func (s *Supervisor) ReadLog(id, stream string, fromOffset int64) ([]byte, int64, error) {
	s.mu.Lock()
	p, ok := s.processes[id]
	s.mu.Unlock()
	if !ok {
		return nil, fromOffset, apperr.NotFound("process")
	}

	rec := p.snapshot()
	var path string
	switch stream {
	case "stdout":
		path = rec.StdoutPath
	case "stderr":
		path = rec.StderrPath
	default:
		path = rec.CombinedLogPath
	}
	if path == "" {
		return nil, fromOffset, apperr.NotFound("log stream")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fromOffset, apperr.WithPath(apperr.CodeReadFile, path, err)
	}
	defer f.Close()

	if _, err := f.Seek(fromOffset, io.SeekStart); err != nil {
		return nil, fromOffset, apperr.WithPath(apperr.CodeReadFile, path, err)
	}
	buf := make([]byte, maxLogReadBytes)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return nil, fromOffset, apperr.WithPath(apperr.CodeReadFile, path, err)
	}
	if n == 0 {
		return nil, fromOffset, nil
	}
	return buf[:n], fromOffset + int64(n), nil
}

// WriteTTY sends keystrokes to a Tty-mode process's master fd.
func (s *Supervisor) WriteTTY(id string, data []byte) error {
	s.mu.Lock()
	p, ok := s.processes[id]
	s.mu.Unlock()
	if !ok {
		return apperr.NotFound("process")
	}
	p.mu.Lock()
	ptmx := p.ptmx
	p.mu.Unlock()
	if ptmx == nil {
		return apperr.New(apperr.CodeUnsupportedCapability, "process is not in tty mode")
	}
	_, err := ptmx.Write(data)
	return err
}

// ResizeTTY changes a Tty-mode process's window size.
func (s *Supervisor) ResizeTTY(id string, rows, cols uint16) error {
	s.mu.Lock()
	p, ok := s.processes[id]
	s.mu.Unlock()
	if !ok {
		return apperr.NotFound("process")
	}
	p.mu.Lock()
	ptmx := p.ptmx
	p.mu.Unlock()
	if ptmx == nil {
		return apperr.New(apperr.CodeUnsupportedCapability, "process is not in tty mode")
	}
	return pty.Setsize(ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// AttachTTY subscribes to a Tty-mode process's live output stream.
func (s *Supervisor) AttachTTY(id string) (uint64, <-chan []byte, error) {
	s.mu.Lock()
	p, ok := s.processes[id]
	s.mu.Unlock()
	if !ok {
		return 0, nil, apperr.NotFound("process")
	}
	p.mu.Lock()
	bc := p.broadcaster
	p.mu.Unlock()
	if bc == nil {
		return 0, nil, apperr.New(apperr.CodeUnsupportedCapability, "process is not in tty mode")
	}
	subID, ch := bc.subscribe(256)
	return subID, ch, nil
}

// DetachTTY removes a previously-attached TTY output subscription.
func (s *Supervisor) DetachTTY(id string, subID uint64) {
	s.mu.Lock()
	p, ok := s.processes[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	p.mu.Lock()
	bc := p.broadcaster
	p.mu.Unlock()
	if bc != nil {
		bc.unsubscribe(subID)
	}
}

// Kill sends the OS-appropriate termination signal to a process's
// child. Status is not updated synchronously; it settles on the next
// PollExits/waitForExit once the child actually dies.
func (s *Supervisor) Kill(id string) error {
	s.mu.Lock()
	p, ok := s.processes[id]
	s.mu.Unlock()
	if !ok {
		return apperr.NotFound("process")
	}
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return apperr.NotFound("process")
	}
	return cmd.Process.Kill()
}
