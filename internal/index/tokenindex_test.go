package index

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentctl/agentctl/internal/model"
)

func writeALineLog(t *testing.T, lines []string) (string, int64, time.Time) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	return path, info.Size(), info.ModTime()
}

func TestRefreshReusesUnchangedEntry(t *testing.T) {
	path, size, modified := writeALineLog(t, []string{
		`{"type":"session_meta","payload":{"id":"s1"}}`,
	})
	summary := model.SessionSummary{
		Engine: model.EngineA, LogPath: path,
		FileSizeBytes: size, FileModified: modified,
	}

	idx := Load(filepath.Join(t.TempDir(), "session_index.json"))
	sentinel := 99
	idx.Entries[path] = Entry{
		SizeBytes: size, ModifiedUnixMs: modified.UnixMilli(),
		TotalTokens: &sentinel, LastTokens: &sentinel,
	}

	idx.Refresh([]model.SessionSummary{summary})

	got := idx.Entries[path]
	if got.TotalTokens == nil || *got.TotalTokens != sentinel {
		t.Fatalf("expected cached sentinel token count to be reused, got %+v", got)
	}
}

func TestRefreshRecomputesOnSizeChange(t *testing.T) {
	path, size, modified := writeALineLog(t, []string{
		`{"type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"total_tokens":42}}}}`,
	})
	summary := model.SessionSummary{
		Engine: model.EngineA, LogPath: path,
		FileSizeBytes: size, FileModified: modified,
	}

	idx := &Index{Version: indexVersion, Entries: map[string]Entry{}}
	stale := 1
	idx.Entries[path] = Entry{
		SizeBytes: size - 1, ModifiedUnixMs: modified.UnixMilli(),
		TotalTokens: &stale,
	}

	idx.Refresh([]model.SessionSummary{summary})

	got := idx.Entries[path]
	if got.TotalTokens == nil || *got.TotalTokens != 42 {
		t.Fatalf("expected recomputed token count 42, got %+v", got.TotalTokens)
	}
}

func TestReverseScanFindsLastTokenCountInSmallFile(t *testing.T) {
	path, size, modified := writeALineLog(t, []string{
		`{"type":"session_meta","payload":{"id":"s1"}}`,
		`{"type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"total_tokens":10},"last_token_usage":{"total_tokens":10}}}}`,
		`{"type":"event_msg","payload":{"type":"other"}}`,
		`{"type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"total_tokens":25},"last_token_usage":{"total_tokens":15}}}}`,
	})
	summary := model.SessionSummary{
		Engine: model.EngineA, LogPath: path,
		FileSizeBytes: size, FileModified: modified,
	}

	idx := &Index{Version: indexVersion, Entries: map[string]Entry{}}
	idx.Refresh([]model.SessionSummary{summary})

	got := idx.Entries[path]
	if got.TotalTokens == nil || *got.TotalTokens != 25 {
		t.Fatalf("expected total_tokens 25, got %+v", got.TotalTokens)
	}
	if got.LastTokens == nil || *got.LastTokens != 15 {
		t.Fatalf("expected last_tokens 15, got %+v", got.LastTokens)
	}
}

func TestReverseScanSkipsNullInfo(t *testing.T) {
	path, size, modified := writeALineLog(t, []string{
		`{"type":"event_msg","payload":{"type":"token_count","info":null}}`,
		`{"type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"total_tokens":7},"last_token_usage":{"total_tokens":7}}}}`,
	})
	summary := model.SessionSummary{
		Engine: model.EngineA, LogPath: path,
		FileSizeBytes: size, FileModified: modified,
	}

	idx := &Index{Version: indexVersion, Entries: map[string]Entry{}}
	idx.Refresh([]model.SessionSummary{summary})

	got := idx.Entries[path]
	if got.TotalTokens == nil || *got.TotalTokens != 7 {
		t.Fatalf("expected null-info line skipped, total_tokens 7, got %+v", got.TotalTokens)
	}
}

func TestRefreshLeavesNonEngineASessionsUntouched(t *testing.T) {
	path, size, modified := writeALineLog(t, []string{`{"anything":"goes"}`})
	summary := model.SessionSummary{
		Engine: model.EngineB, LogPath: path,
		FileSizeBytes: size, FileModified: modified,
	}

	idx := &Index{Version: indexVersion, Entries: map[string]Entry{}}
	idx.Refresh([]model.SessionSummary{summary})

	got := idx.Entries[path]
	if got.TotalTokens != nil || got.LastTokens != nil {
		t.Fatalf("expected no token scan for engine B, got %+v", got)
	}
}

func TestLoadMissingFileReturnsEmptyIndex(t *testing.T) {
	idx := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if idx == nil || idx.Entries == nil || len(idx.Entries) != 0 {
		t.Fatalf("expected empty index, got %+v", idx)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_index.json")
	idx := &Index{Version: indexVersion, Entries: map[string]Entry{}}
	total := 5
	idx.Entries["/tmp/a.jsonl"] = Entry{SizeBytes: 100, ModifiedUnixMs: 1000, TotalTokens: &total}

	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := Load(path)
	got := reloaded.Entries["/tmp/a.jsonl"]
	if got.SizeBytes != 100 || got.TotalTokens == nil || *got.TotalTokens != 5 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
