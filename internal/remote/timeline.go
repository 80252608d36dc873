package remote

import (
	"database/sql"
	"os"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/agentctl/agentctl/internal/model"
	"github.com/agentctl/agentctl/internal/parser"
	"github.com/agentctl/agentctl/internal/scanner"
	"github.com/agentctl/agentctl/internal/supervisor"
)

// SessionSource is where a Dispatcher looks for on-disk sessions and,
// for engine D, the relational store backing its projection.
type SessionSource struct {
	Roots    supervisor.EngineRoots
	DRelDB   *sql.DB
	StateDir string
}

// listAllSessions scans every configured engine root into one slice,
// tolerating missing roots exactly as the individual Scan* functions do.
func (s SessionSource) listAllSessions() []model.SessionSummary {
	var out []model.SessionSummary
	if root := s.Roots[model.EngineA]; root != "" {
		out = append(out, scanner.ScanALine(root).Sessions...)
	}
	if root := s.Roots[model.EngineB]; root != "" {
		out = append(out, scanner.ScanBLine(root).Sessions...)
	}
	if root := s.Roots[model.EngineC]; root != "" {
		out = append(out, scanner.ScanCLine(root).Sessions...)
	}
	if s.DRelDB != nil {
		out = append(out, scanner.ScanDRelational(s.DRelDB, s.StateDir).Sessions...)
	}
	return out
}

// ListAllSessions is the exported form of listAllSessions, used by the
// serving binary to refresh the session tokens cache (internal/index)
// outside of any single RPC call.
func (s SessionSource) ListAllSessions() []model.SessionSummary {
	return s.listAllSessions()
}

func (s SessionSource) findSession(sessionID string) (model.SessionSummary, error) {
	for _, sess := range s.listAllSessions() {
		if sess.Meta.ID == sessionID {
			return sess, nil
		}
	}
	return model.SessionSummary{}, apperr.NotFound("session")
}

// resolveLogPath finds sessionID across every engine and returns the
// concrete file GetTimeline/logFileSize should read: the session's own
// log for engines A/B/C, or a freshly projected cache file for engine D.
func (s SessionSource) resolveLogPath(sessionID string) (model.SessionSummary, string, error) {
	sess, err := s.findSession(sessionID)
	if err != nil {
		return model.SessionSummary{}, "", err
	}

	logPath := sess.LogPath
	if sess.Engine == model.EngineD {
		cachePath, err := parser.ProjectDRelationalSession(s.DRelDB, sessionID, s.StateDir)
		if err != nil {
			return model.SessionSummary{}, "", apperr.WithPath(apperr.CodeReadFile, sessionID, err)
		}
		logPath = cachePath
	}
	return sess, logPath, nil
}

// logFileSize resolves sessionID's backing log file and returns its
// current size in bytes, the cursor unit sessions.subscribeTimeline
// reports (spec §4.9).
func (s SessionSource) logFileSize(sessionID string) (int64, error) {
	_, logPath, err := s.resolveLogPath(sessionID)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(logPath)
	if err != nil {
		return 0, apperr.WithPath(apperr.CodeReadFile, logPath, err)
	}
	return info.Size(), nil
}

func (s SessionSource) parseSession(sess model.SessionSummary, logPath string) (*parser.ParseResult, model.SessionMeta, error) {
	switch sess.Engine {
	case model.EngineA, model.EngineD:
		f, err := os.Open(logPath)
		if err != nil {
			return nil, model.SessionMeta{}, apperr.WithPath(apperr.CodeReadFile, logPath, err)
		}
		defer f.Close()
		result, meta, err := parser.ParseALine(f)
		if err != nil {
			return nil, model.SessionMeta{}, err
		}
		return result, meta, nil
	case model.EngineB:
		f, err := os.Open(logPath)
		if err != nil {
			return nil, model.SessionMeta{}, apperr.WithPath(apperr.CodeReadFile, logPath, err)
		}
		defer f.Close()
		result, err := parser.ParseBLine(f)
		if err != nil {
			return nil, model.SessionMeta{}, err
		}
		return result, sess.Meta, nil
	case model.EngineC:
		data, err := os.ReadFile(logPath)
		if err != nil {
			return nil, model.SessionMeta{}, apperr.WithPath(apperr.CodeReadFile, logPath, err)
		}
		result, err := parser.ParseCLine(data)
		if err != nil {
			return nil, model.SessionMeta{}, err
		}
		return result, sess.Meta, nil
	default:
		return nil, model.SessionMeta{}, apperr.New(apperr.CodeError, "unknown session engine")
	}
}

// GetTimeline resolves a session by id across every engine and parses
// its canonical timeline (spec §4.9's sessions.getTimeline), returning
// at most limit items — the most recently parsed ones — plus the log
// file's current size as the next cursor. When cursor already covers
// the whole file, the file is not reread and an empty result is
// returned, matching the original's incremental-poll behavior.
func (s SessionSource) GetTimeline(sessionID string, limit int, cursor int64) (*parser.ParseResult, model.SessionMeta, int64, error) {
	sess, logPath, err := s.resolveLogPath(sessionID)
	if err != nil {
		return nil, model.SessionMeta{}, 0, err
	}
	info, err := os.Stat(logPath)
	if err != nil {
		return nil, model.SessionMeta{}, 0, apperr.WithPath(apperr.CodeReadFile, logPath, err)
	}
	fileSize := info.Size()

	if cursor >= fileSize {
		return &parser.ParseResult{}, sess.Meta, fileSize, nil
	}

	result, meta, err := s.parseSession(sess, logPath)
	if err != nil {
		return nil, model.SessionMeta{}, 0, err
	}
	if limit > 0 && len(result.Items) > limit {
		result.Items = result.Items[len(result.Items)-limit:]
	}
	return result, meta, fileSize, nil
}
