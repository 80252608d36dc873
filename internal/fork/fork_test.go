package fork

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/agentctl/agentctl/internal/model"
)

func writeParentLog(t *testing.T, lines []string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "parent.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644))
	return path
}

const metaLine = `{"timestamp":"2026-02-18T21:45:57Z","type":"session_meta","payload":{"id":"parent","timestamp":"2026-02-18T21:45:57Z","cwd":"/tmp/project"}}`

func TestForkAtCut_AfterLineInclusive(t *testing.T) {
	lines := []string{
		metaLine,
		`{"timestamp":"2026-02-18T21:45:58Z","type":"turn_context","payload":{"turn_id":"t1","cwd":"/tmp/project"}}`,
		`{"timestamp":"2026-02-18T21:45:59Z","type":"response_item","payload":{"type":"message","role":"user","content":[{"type":"input_text","text":"hello"}]}}`,
		`{"timestamp":"2026-02-18T21:46:00Z","type":"response_item","payload":{"type":"message","role":"assistant","content":[{"type":"output_text","text":"ok"}]}}`,
	}
	parentPath := writeParentLog(t, lines)
	sessionsDir := filepath.Join(filepath.Dir(parentPath), "sessions")

	result, err := ForkAtCut(sessionsDir, parentPath, model.ForkCut{Kind: model.CutAfterLine, LineNo: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, result.NewSessionID)
	assert.NotEqual(t, "parent", result.NewSessionID)

	data, err := os.ReadFile(result.NewLogPath)
	require.NoError(t, err)
	forkLines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, forkLines, 3)

	meta := gjson.Parse(forkLines[0])
	assert.Equal(t, "session_meta", meta.Get("type").String())
	assert.Equal(t, "/tmp/project", meta.Get("payload.cwd").String())
	assert.Equal(t, result.NewSessionID, meta.Get("payload.id").String())
	assert.NotEqual(t, "parent", meta.Get("payload.id").String())

	assert.Equal(t, lines[1], forkLines[1])
	assert.Equal(t, lines[2], forkLines[2])
}

func TestForkAtCut_BeforeLineExclusive(t *testing.T) {
	lines := []string{
		metaLine,
		`{"type":"turn_context","payload":{"turn_id":"t1"}}`,
		`{"type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"total_tokens":1}}}}`,
	}
	parentPath := writeParentLog(t, lines)
	sessionsDir := filepath.Join(filepath.Dir(parentPath), "sessions")

	result, err := ForkAtCut(sessionsDir, parentPath, model.ForkCut{Kind: model.CutBeforeLine, LineNo: 3})
	require.NoError(t, err)

	data, err := os.ReadFile(result.NewLogPath)
	require.NoError(t, err)
	forkLines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, forkLines, 2)
	assert.Equal(t, lines[1], forkLines[1])
}

func TestForkAtCut_BeforeLineAtOrBelowTwoWritesMetaOnly(t *testing.T) {
	lines := []string{
		metaLine,
		`{"type":"turn_context","payload":{"turn_id":"t1"}}`,
	}
	parentPath := writeParentLog(t, lines)
	sessionsDir := filepath.Join(filepath.Dir(parentPath), "sessions")

	result, err := ForkAtCut(sessionsDir, parentPath, model.ForkCut{Kind: model.CutBeforeLine, LineNo: 2})
	require.NoError(t, err)

	data, err := os.ReadFile(result.NewLogPath)
	require.NoError(t, err)
	forkLines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, forkLines, 1)
}

func TestForkAtCut_OutOfRangeCut(t *testing.T) {
	lines := []string{
		metaLine,
		`{"type":"turn_context","payload":{"turn_id":"t1"}}`,
	}
	parentPath := writeParentLog(t, lines)
	sessionsDir := filepath.Join(filepath.Dir(parentPath), "sessions")

	_, err := ForkAtCut(sessionsDir, parentPath, model.ForkCut{Kind: model.CutAfterLine, LineNo: 5})
	require.Error(t, err)
	var outOfRange *CutOutOfRangeError
	require.ErrorAs(t, err, &outOfRange)
	assert.Equal(t, 5, outOfRange.LineNo)
}

func TestForkAtCut_EmptyParent(t *testing.T) {
	parentPath := writeParentLog(t, []string{})
	sessionsDir := filepath.Join(filepath.Dir(parentPath), "sessions")

	_, err := ForkAtCut(sessionsDir, parentPath, model.ForkCut{Kind: model.CutAfterLine, LineNo: 1})
	require.ErrorIs(t, err, ErrEmptyParent)
}

func TestForkAtCut_UnexpectedMetaType(t *testing.T) {
	parentPath := writeParentLog(t, []string{`{"type":"turn_context","payload":{}}`})
	sessionsDir := filepath.Join(filepath.Dir(parentPath), "sessions")

	_, err := ForkAtCut(sessionsDir, parentPath, model.ForkCut{Kind: model.CutAfterLine, LineNo: 1})
	require.ErrorIs(t, err, ErrParentMetaUnexpectedType)
}
