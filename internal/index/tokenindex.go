// Package index maintains the session tokens cache (spec §4.2): a
// persisted map from canonical log_path to cached file stats and, for
// engine A, the most recently observed token totals.
package index

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"

	"github.com/agentctl/agentctl/internal/model"
)

const indexVersion = 1

// reverseScanWindows are tried in order when hunting for the last
// token_count event in an A-Line log: 256 KiB first, then 2 MiB.
var reverseScanWindows = []int64{256 * 1024, 2 * 1024 * 1024}

// Entry is one session_index.json row.
type Entry struct {
	SizeBytes      int64 `json:"size_bytes"`
	ModifiedUnixMs int64 `json:"modified_unix_ms"`
	TotalTokens    *int  `json:"total_tokens,omitempty"`
	LastTokens     *int  `json:"last_tokens,omitempty"`
}

// Index is the in-memory form of session_index.json, keyed by log_path.
type Index struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// Load reads an index file, returning an empty index if it does not
// exist or cannot be parsed (a corrupt cache is rebuilt, never fatal).
func Load(path string) *Index {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Index{Version: indexVersion, Entries: map[string]Entry{}}
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil || idx.Entries == nil {
		return &Index{Version: indexVersion, Entries: map[string]Entry{}}
	}
	idx.Version = indexVersion
	return &idx
}

// Save persists the index atomically: write to a temp file in the same
// directory, then rename over the target.
func (idx *Index) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".session_index-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// Refresh reconciles the index against a fresh batch of scanned
// sessions: entries whose (size, mtime) are unchanged are kept as-is;
// everything else is recomputed (tokens only for engine A, per
// spec §4.2 — other engines are left blank).
func (idx *Index) Refresh(sessions []model.SessionSummary) {
	for _, s := range sessions {
		sizeBytes := s.FileSizeBytes
		modifiedMs := s.FileModified.UnixMilli()

		if prior, ok := idx.Entries[s.LogPath]; ok &&
			prior.SizeBytes == sizeBytes && prior.ModifiedUnixMs == modifiedMs {
			continue
		}

		entry := Entry{SizeBytes: sizeBytes, ModifiedUnixMs: modifiedMs}
		if s.Engine == model.EngineA {
			if total, last, ok := reverseScanTokenCount(s.LogPath); ok {
				entry.TotalTokens = &total
				entry.LastTokens = &last
			}
		}
		idx.Entries[s.LogPath] = entry
	}
}

// reverseScanTokenCount hunts the tail of an A-Line log for the last
// valid token_count event, trying progressively larger windows.
func reverseScanTokenCount(path string) (total int, last int, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, false
	}

	for _, window := range reverseScanWindows {
		start := info.Size() - window
		if start < 0 {
			start = 0
		}
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			continue
		}
		buf, err := io.ReadAll(f)
		if err != nil {
			continue
		}
		if total, last, ok = lastTokenCountInBuf(buf); ok {
			return total, last, true
		}
		if start == 0 {
			break
		}
	}
	return 0, 0, false
}

func lastTokenCountInBuf(buf []byte) (total int, last int, ok bool) {
	lines := splitLines(buf)
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if len(line) == 0 {
			continue
		}
		v := gjson.ParseBytes(line)
		if v.Get("type").String() != "event_msg" {
			continue
		}
		payload := v.Get("payload")
		if payload.Get("type").String() != "token_count" {
			continue
		}
		info := payload.Get("info")
		if !info.Exists() || info.Type == gjson.Null {
			continue
		}
		totalResult := info.Get("total_token_usage.total_tokens")
		lastResult := info.Get("last_token_usage.total_tokens")
		if !totalResult.Exists() {
			continue
		}
		return int(totalResult.Int()), int(lastResult.Int()), true
	}
	return 0, 0, false
}

func splitLines(buf []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range buf {
		if b == '\n' {
			lines = append(lines, buf[start:i])
			start = i + 1
		}
	}
	if start < len(buf) {
		lines = append(lines, buf[start:])
	}
	return lines
}
