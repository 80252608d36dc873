package parser

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tidwall/gjson"
)

// DRelationalSession is one row of the D-Relational `session` table
// joined with its owning project's worktree.
type DRelationalSession struct {
	ID          string
	ProjectID   string
	Worktree    string
	ParentID    string
	Title       string
	TimeCreated int64
	TimeUpdated int64
	Archived    bool
}

// OpenDRelationalDB opens the OpenCode-shaped SQLite store read-only,
// matching the teacher's DSN conventions (WAL, short busy timeout).
func OpenDRelationalDB(dbPath string) (*sql.DB, error) {
	dsn := dbPath + "?mode=ro&_journal_mode=WAL&_busy_timeout=3000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening d-relational db %s: %w", dbPath, err)
	}
	return db, nil
}

// ListDRelationalSessions returns every non-archived session row, newest
// updated-time first, for the scanner (spec §4.1 D-Relational bullet).
func ListDRelationalSessions(db *sql.DB) ([]DRelationalSession, error) {
	rows, err := db.Query(`
		SELECT s.id, s.project_id, COALESCE(p.worktree, ''),
		       COALESCE(s.parent_id, ''), COALESCE(s.title, ''),
		       s.time_created, s.time_updated, s.time_archived
		FROM session s
		JOIN project p ON p.id = s.project_id
		WHERE s.time_archived IS NULL
		ORDER BY s.time_updated DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []DRelationalSession
	for rows.Next() {
		var s DRelationalSession
		var archived sql.NullInt64
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Worktree, &s.ParentID,
			&s.Title, &s.TimeCreated, &s.TimeUpdated, &archived); err != nil {
			return nil, err
		}
		s.Archived = archived.Valid
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func loadDRelationalSession(db *sql.DB, sessionID string) (DRelationalSession, error) {
	row := db.QueryRow(`
		SELECT s.id, s.project_id, COALESCE(p.worktree, ''),
		       COALESCE(s.parent_id, ''), COALESCE(s.title, ''),
		       s.time_created, s.time_updated
		FROM session s
		JOIN project p ON p.id = s.project_id
		WHERE s.id = ?
	`, sessionID)
	var s DRelationalSession
	err := row.Scan(&s.ID, &s.ProjectID, &s.Worktree, &s.ParentID,
		&s.Title, &s.TimeCreated, &s.TimeUpdated)
	return s, err
}

type dRelationalMessage struct {
	id          string
	role        string
	parentID    string
	timeCreated int64
}

func loadDRelationalMessages(db *sql.DB, sessionID string) ([]dRelationalMessage, error) {
	rows, err := db.Query(`
		SELECT id, data, time_created
		FROM message
		WHERE session_id = ?
		ORDER BY time_created, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dRelationalMessage
	for rows.Next() {
		var id, data string
		var timeCreated int64
		if err := rows.Scan(&id, &data, &timeCreated); err != nil {
			return nil, err
		}
		v := gjson.Parse(data)
		out = append(out, dRelationalMessage{
			id:          id,
			role:        v.Get("role").String(),
			parentID:    v.Get("parentID").String(),
			timeCreated: timeCreated,
		})
	}
	return out, rows.Err()
}

type dRelationalPart struct {
	id          string
	kind        string
	data        gjson.Result
	timeCreated int64
}

func loadDRelationalParts(db *sql.DB, messageID string) ([]dRelationalPart, error) {
	rows, err := db.Query(`
		SELECT id, COALESCE(data, '{}'), time_created
		FROM part
		WHERE message_id = ?
		ORDER BY time_created, id
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dRelationalPart
	for rows.Next() {
		var id, data string
		var timeCreated int64
		if err := rows.Scan(&id, &data, &timeCreated); err != nil {
			return nil, err
		}
		v := gjson.Parse(data)
		out = append(out, dRelationalPart{
			id: id, kind: v.Get("type").String(), data: v, timeCreated: timeCreated,
		})
	}
	return out, rows.Err()
}

// ProjectDRelationalSession ensures the A-Line-shaped cache file for a
// D-Relational session is fresh and returns its path. Freshness is
// determined per spec §4.7: the cache's first line's meta payload must
// carry a `time_updated` field equal to the DB row's current value.
func ProjectDRelationalSession(db *sql.DB, sessionID, stateDir string) (string, error) {
	s, err := loadDRelationalSession(db, sessionID)
	if err != nil {
		return "", fmt.Errorf("loading d-relational session %s: %w", sessionID, err)
	}

	cachePath := filepath.Join(stateDir, "cache", "sessions", sessionID+".jsonl")
	if fresh(cachePath, s.TimeUpdated) {
		return cachePath, nil
	}
	if err := writeProjection(db, s, cachePath); err != nil {
		return "", err
	}
	return cachePath, nil
}

func fresh(cachePath string, timeUpdated int64) bool {
	f, err := os.Open(cachePath)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxALineLineBytes)
	if !scanner.Scan() {
		return false
	}
	v := gjson.Parse(scanner.Text())
	return v.Get("payload.time_updated").Exists() &&
		v.Get("payload.time_updated").Int() == timeUpdated
}

// jsonLine marshals v to one compact trailing-newline-free JSON line.
func jsonLine(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func writeProjection(db *sql.DB, s DRelationalSession, cachePath string) error {
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	tmp := cachePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	w := bufio.NewWriter(f)

	meta := map[string]any{
		"timestamp": unixMsToRFC3339(s.TimeCreated),
		"type":      "session_meta",
		"payload": map[string]any{
			"id":           s.ID,
			"timestamp":    unixMsToRFC3339(s.TimeCreated),
			"cwd":          s.Worktree,
			"time_updated": s.TimeUpdated,
		},
	}
	fmt.Fprintln(w, jsonLine(meta))

	messages, err := loadDRelationalMessages(db, s.ID)
	if err != nil {
		f.Close()
		return fmt.Errorf("loading messages for %s: %w", s.ID, err)
	}

	byParent := make(map[string][]dRelationalMessage)
	var userMsgs []dRelationalMessage
	for _, m := range messages {
		if m.role == "user" {
			userMsgs = append(userMsgs, m)
		} else {
			byParent[m.parentID] = append(byParent[m.parentID], m)
		}
	}
	sort.Slice(userMsgs, func(i, j int) bool {
		return userMsgs[i].timeCreated < userMsgs[j].timeCreated
	})

	totalTokens := 0
	for _, um := range userMsgs {
		writeTurnContext(w, um.id, s.Worktree)
		if err := writeUserResponseItem(w, db, um); err != nil {
			f.Close()
			return err
		}

		assistants := byParent[um.id]
		sort.Slice(assistants, func(i, j int) bool {
			if assistants[i].timeCreated != assistants[j].timeCreated {
				return assistants[i].timeCreated < assistants[j].timeCreated
			}
			return assistants[i].id < assistants[j].id
		})

		for _, am := range assistants {
			lastTokens, err := writeAssistantMessage(w, db, am)
			if err != nil {
				f.Close()
				return err
			}
			totalTokens += lastTokens
			writeTokenCountEvent(w, totalTokens, lastTokens)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing cache file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Rename(tmp, cachePath); err != nil {
		return fmt.Errorf("renaming cache file: %w", err)
	}
	return nil
}

func writeTurnContext(w *bufio.Writer, turnID, cwd string) {
	line := map[string]any{
		"type": "turn_context",
		"payload": map[string]any{
			"turn_id": turnID,
			"cwd":     cwd,
		},
	}
	fmt.Fprintln(w, jsonLine(line))
}

// writeUserResponseItem projects a user message's first text part (the D
// schema keeps message text in the `part` table, same as assistant
// messages) into a single response_item.message; later text parts are
// not included.
func writeUserResponseItem(w *bufio.Writer, db *sql.DB, um dRelationalMessage) error {
	parts, err := loadDRelationalParts(db, um.id)
	if err != nil {
		return fmt.Errorf("loading parts for message %s: %w", um.id, err)
	}
	var text string
	for _, p := range parts {
		if p.kind == "text" {
			text = p.data.Get("text").String()
			break
		}
	}
	line := map[string]any{
		"type": "response_item",
		"payload": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
	fmt.Fprintln(w, jsonLine(line))
	return nil
}

// writeAssistantMessage projects one assistant message's parts (per
// spec §4.7: reasoning -> response_item.reasoning, tool -> function_call
// (+ function_call_output on completed, or an error output), text ->
// response_item.message) and returns the last-usage token count found
// on a tool part's usage field, if any.
func writeAssistantMessage(w *bufio.Writer, db *sql.DB, am dRelationalMessage) (int, error) {
	parts, err := loadDRelationalParts(db, am.id)
	if err != nil {
		return 0, fmt.Errorf("loading parts for message %s: %w", am.id, err)
	}

	lastTokens := 0
	for _, p := range parts {
		switch p.kind {
		case "reasoning":
			text := p.data.Get("text").String()
			fmt.Fprintln(w, jsonLine(map[string]any{
				"type": "response_item",
				"payload": map[string]any{
					"type":    "reasoning",
					"summary": []map[string]any{{"type": "summary_text", "text": text}},
				},
			}))
		case "tool":
			callID := p.id
			name := p.data.Get("tool").String()
			fmt.Fprintln(w, jsonLine(map[string]any{
				"type": "response_item",
				"payload": map[string]any{
					"type": "function_call", "name": name, "call_id": callID,
					"arguments": p.data.Get("input").Raw,
				},
			}))
			status := p.data.Get("state.status").String()
			switch status {
			case "completed":
				fmt.Fprintln(w, jsonLine(map[string]any{
					"type": "response_item",
					"payload": map[string]any{
						"type": "function_call_output", "call_id": callID,
						"output": p.data.Get("state.output").String(),
					},
				}))
			case "error":
				fmt.Fprintln(w, jsonLine(map[string]any{
					"type": "response_item",
					"payload": map[string]any{
						"type": "function_call_output", "call_id": callID,
						"output": "error: " + p.data.Get("state.error").String(),
					},
				}))
			}
			if tok := p.data.Get("state.tokens"); tok.Exists() {
				lastTokens = int(tok.Int())
			}
		case "text":
			fmt.Fprintln(w, jsonLine(map[string]any{
				"type": "response_item",
				"payload": map[string]any{
					"type": "message", "role": "assistant",
					"content": []map[string]any{
						{"type": "output_text", "text": p.data.Get("text").String()},
					},
				},
			}))
		}
	}
	return lastTokens, nil
}

func writeTokenCountEvent(w *bufio.Writer, total, last int) {
	line := map[string]any{
		"type": "event_msg",
		"payload": map[string]any{
			"type": "token_count",
			"info": map[string]any{
				"total_token_usage": map[string]any{"total_tokens": total},
				"last_token_usage":  map[string]any{"total_tokens": last},
			},
		},
	}
	fmt.Fprintln(w, jsonLine(line))
}

func unixMsToRFC3339(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}
