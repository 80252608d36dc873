// Package scanner enumerates on-disk sessions for each engine into
// canonical model.SessionSummary records (spec §4.1), tolerating
// unreadable entries and missing roots without treating either as a
// hard error.
package scanner

import (
	"bufio"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/agentctl/agentctl/internal/model"
	"github.com/agentctl/agentctl/internal/parser"
)

// maxTitleScanLines and maxTitleScanBytes bound how far the scanner
// reads into an A-Line log looking for the first non-metadata user
// text to use as a title.
const (
	maxTitleScanLines = 250
	maxTitleScanBytes = 512 * 1024
)

// ScanOutput is the result of one engine scan: the discovered
// sessions, a warning count for tolerated per-entry failures, and an
// optional notice describing a missing/unreadable root (not an
// error).
type ScanOutput struct {
	Sessions []model.SessionSummary
	Warnings int
	Notice   string
}

// ScanALine walks <root>/YYYY/MM/DD/*.jsonl, reading each file's meta
// line and deriving a title from the first non-metadata user text
// within the first 250 lines or 512 KiB, whichever comes first.
func ScanALine(root string) ScanOutput {
	if _, err := os.Stat(root); err != nil {
		return ScanOutput{Notice: fmt.Sprintf("a-line root unavailable: %s", root)}
	}

	files := parser.DiscoverALineSessions(root)
	var out ScanOutput
	for _, df := range files {
		summary, ok := scanALineFile(df)
		if !ok {
			out.Warnings++
			continue
		}
		out.Sessions = append(out.Sessions, summary)
	}
	return out
}

func scanALineFile(df parser.DiscoveredFile) (model.SessionSummary, bool) {
	info, err := os.Stat(df.Path)
	if err != nil {
		return model.SessionSummary{}, false
	}

	f, err := os.Open(df.Path)
	if err != nil {
		return model.SessionSummary{}, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	if !scanner.Scan() {
		return model.SessionSummary{}, false
	}
	meta, err := parser.ParseALineMetaLine(scanner.Text())
	if err != nil {
		return model.SessionSummary{}, false
	}

	title := scanALineTitle(scanner)
	return model.SessionSummary{
		Engine:        model.EngineA,
		Meta:          meta,
		LogPath:       df.Path,
		Title:         title,
		FileSizeBytes: info.Size(),
		FileModified:  info.ModTime(),
	}, true
}

func scanALineTitle(scanner *bufio.Scanner) string {
	var bytesRead int
	for lines := 0; lines < maxTitleScanLines && bytesRead < maxTitleScanBytes && scanner.Scan(); lines++ {
		line := scanner.Text()
		bytesRead += len(line) + 1
		v := gjson.Parse(line)
		if v.Get("type").String() != "response_item" {
			continue
		}
		payload := v.Get("payload")
		if payload.Get("type").String() != "message" || payload.Get("role").String() != "user" {
			continue
		}
		var texts []string
		payload.Get("content").ForEach(func(_, item gjson.Result) bool {
			if item.Get("type").String() == "input_text" {
				texts = append(texts, item.Get("text").String())
			}
			return true
		})
		text := strings.Join(texts, "\n")
		if strings.TrimSpace(text) == "" || parser.IsMetadataPrompt(text) {
			continue
		}
		return firstLine(text)
	}
	return ""
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

// sessionsIndexRow mirrors one row of a B-Line sessions-index.json
// sidecar.
type sessionsIndexRow struct {
	Path        string `json:"path"`
	Summary     string `json:"summary"`
	FirstPrompt string `json:"firstPrompt"`
}

// ScanBLine walks a B-Line projects directory, preferring each
// project's sessions-index.json sidecar when present and falling
// back to a per-file scan otherwise.
func ScanBLine(root string) ScanOutput {
	if _, err := os.Stat(root); err != nil {
		return ScanOutput{Notice: fmt.Sprintf("b-line root unavailable: %s", root)}
	}

	files := parser.DiscoverBLineProjects(root)
	indexed := make(map[string]bool)

	var out ScanOutput
	byProject := make(map[string][]parser.DiscoveredFile)
	for _, df := range files {
		byProject[df.Project] = append(byProject[df.Project], df)
	}

	for project, projFiles := range byProject {
		indexPath := filepath.Join(root, project, "sessions-index.json")
		if rows, ok := readSessionsIndex(indexPath); ok {
			for _, df := range projFiles {
				indexed[df.Path] = true
			}
			for _, row := range rows {
				path := row.Path
				if !filepath.IsAbs(path) {
					path = filepath.Join(root, project, path)
				}
				info, err := os.Stat(path)
				if err != nil {
					out.Warnings++
					continue
				}
				title := row.Summary
				if title == "" {
					title = row.FirstPrompt
				}
				out.Sessions = append(out.Sessions, model.SessionSummary{
					Engine:        model.EngineB,
					Meta:          model.SessionMeta{ID: strings.TrimSuffix(filepath.Base(path), ".jsonl")},
					LogPath:       path,
					Title:         title,
					FileSizeBytes: info.Size(),
					FileModified:  info.ModTime(),
				})
			}
			continue
		}

		for _, df := range projFiles {
			summary, ok := scanBLineFile(df)
			if !ok {
				out.Warnings++
				continue
			}
			out.Sessions = append(out.Sessions, summary)
		}
	}
	return out
}

func readSessionsIndex(path string) ([]sessionsIndexRow, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	v := gjson.ParseBytes(data)
	if !v.IsArray() {
		return nil, false
	}
	var rows []sessionsIndexRow
	v.ForEach(func(_, row gjson.Result) bool {
		rows = append(rows, sessionsIndexRow{
			Path:        row.Get("path").String(),
			Summary:     row.Get("summary").String(),
			FirstPrompt: row.Get("firstPrompt").String(),
		})
		return true
	})
	return rows, true
}

func scanBLineFile(df parser.DiscoveredFile) (model.SessionSummary, bool) {
	info, err := os.Stat(df.Path)
	if err != nil {
		return model.SessionSummary{}, false
	}
	f, err := os.Open(df.Path)
	if err != nil {
		return model.SessionSummary{}, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var id, cwd, title string
	for lines := 0; lines < maxTitleScanLines && scanner.Scan(); lines++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v := gjson.Parse(line)
		if id == "" {
			if sid := v.Get("sessionId").String(); sid != "" {
				id = sid
			}
		}
		if cwd == "" {
			if c := v.Get("cwd").String(); c != "" {
				cwd = c
			}
		}
		if title == "" && v.Get("type").String() == "user" {
			content := v.Get("message.content")
			if content.Type == gjson.String {
				text := content.String()
				if strings.TrimSpace(text) != "" && !parser.IsMetadataPrompt(text) {
					title = firstLine(text)
				}
			}
		}
	}
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(df.Path), ".jsonl")
	}

	return model.SessionSummary{
		Engine:        model.EngineB,
		Meta:          model.SessionMeta{ID: id, Cwd: cwd},
		LogPath:       df.Path,
		Title:         title,
		FileSizeBytes: info.Size(),
		FileModified:  info.ModTime(),
	}, true
}

// ScanCLine walks <root>/tmp/<hash>/chats/session-*.json. A sibling
// logs.json inside the project dir, when present, supplies the title;
// the start timestamp always comes from the session file's startTime.
func ScanCLine(root string) ScanOutput {
	if _, err := os.Stat(root); err != nil {
		return ScanOutput{Notice: fmt.Sprintf("c-line root unavailable: %s", root)}
	}

	files := parser.DiscoverCLineSessions(root)
	var out ScanOutput
	for _, df := range files {
		summary, ok := scanCLineFile(df)
		if !ok {
			out.Warnings++
			continue
		}
		out.Sessions = append(out.Sessions, summary)
	}
	return out
}

func scanCLineFile(df parser.DiscoveredFile) (model.SessionSummary, bool) {
	info, err := os.Stat(df.Path)
	if err != nil {
		return model.SessionSummary{}, false
	}
	data, err := os.ReadFile(df.Path)
	if err != nil {
		return model.SessionSummary{}, false
	}
	v := gjson.ParseBytes(data)
	id := v.Get("sessionId").String()
	if id == "" {
		id = strings.TrimSuffix(strings.TrimPrefix(filepath.Base(df.Path), "session-"), ".json")
	}

	logsPath := filepath.Join(filepath.Dir(filepath.Dir(df.Path)), "logs.json")
	title := titleFromCLineLogs(logsPath, id)
	if title == "" {
		title = titleFromCLineDocument(v)
	}

	return model.SessionSummary{
		Engine:        model.EngineC,
		Meta:          model.SessionMeta{ID: id, StartedAt: v.Get("startTime").String()},
		LogPath:       df.Path,
		Title:         title,
		FileSizeBytes: info.Size(),
		FileModified:  info.ModTime(),
	}, true
}

func titleFromCLineLogs(logsPath, sessionID string) string {
	data, err := os.ReadFile(logsPath)
	if err != nil {
		return ""
	}
	entry := gjson.GetBytes(data, sessionID)
	if !entry.Exists() {
		return ""
	}
	text := entry.Get("firstPrompt").String()
	if text == "" {
		text = entry.String()
	}
	return firstLine(text)
}

func titleFromCLineDocument(doc gjson.Result) string {
	var title string
	doc.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		if msg.Get("type").String() != "user" {
			return true
		}
		text := msg.Get("content").String()
		if strings.TrimSpace(text) == "" || parser.IsMetadataPrompt(text) {
			return true
		}
		title = firstLine(text)
		return false
	})
	return title
}

// ScanDRelational opens a D-Relational SQLite store read-only and
// returns its non-archived sessions, newest first. Returned sessions
// carry a synthetic log_path pointing at the cache location the
// projector (internal/parser.ProjectDRelationalSession) produces on
// demand.
func ScanDRelational(db *sql.DB, stateDir string) ScanOutput {
	sessions, err := parser.ListDRelationalSessions(db)
	if err != nil {
		return ScanOutput{Notice: fmt.Sprintf("d-relational scan failed: %v", err)}
	}

	var out ScanOutput
	for _, s := range sessions {
		out.Sessions = append(out.Sessions, model.SessionSummary{
			Engine:  model.EngineD,
			Meta:    model.SessionMeta{ID: s.ID, Cwd: s.Worktree},
			LogPath: filepath.Join(stateDir, "cache", "sessions", s.ID+".jsonl"),
			Title:   s.Title,
		})
	}
	return out
}

// GroupByProject groups sessions from every engine by their meta.Cwd
// into the per-project view the projects.list RPC method serves
// (spec §4.9). Sessions with an empty Cwd are grouped under "" (the
// caller may choose to hide or label this bucket). Each project's
// sessions are sorted newest-modified first; projects themselves are
// sorted by their most recently modified session.
func GroupByProject(sessions []model.SessionSummary) []model.ProjectSummary {
	byPath := make(map[string]*model.ProjectSummary)
	var order []string

	for _, s := range sessions {
		path := s.Meta.Cwd
		proj, ok := byPath[path]
		if !ok {
			proj = &model.ProjectSummary{ProjectPath: path, Name: filepath.Base(path)}
			byPath[path] = proj
			order = append(order, path)
		}
		proj.Sessions = append(proj.Sessions, s)
		if s.FileModified.After(proj.LastModified) {
			proj.LastModified = s.FileModified
		}
	}

	out := make([]model.ProjectSummary, 0, len(order))
	for _, path := range order {
		proj := byPath[path]
		sort.Slice(proj.Sessions, func(i, j int) bool {
			return proj.Sessions[i].FileModified.After(proj.Sessions[j].FileModified)
		})
		out = append(out, *proj)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out
}
