// Package fork implements fork_at_cut (spec §4.4): splitting an A-Line
// session log into a fresh child session at a given line cut.
package fork

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/agentctl/agentctl/internal/model"
)

// ErrEmptyParent is returned when the parent log has no lines at all.
var ErrEmptyParent = errors.New("fork: parent session log is empty")

// ErrParentMetaUnexpectedType is returned when the parent's first line
// is not a well-formed session_meta record.
var ErrParentMetaUnexpectedType = errors.New("fork: parent session_meta has unexpected type")

// CutOutOfRangeError reports a BeforeLine/AfterLine cut past the end of
// the parent log.
type CutOutOfRangeError struct {
	LineNo int
}

func (e *CutOutOfRangeError) Error() string {
	return fmt.Sprintf("fork: cut line %d is out of range", e.LineNo)
}

// Result is the outcome of a successful fork.
type Result struct {
	NewSessionID string
	NewLogPath   string
}

// ForkAtCut reads the parent's meta line, generates a fresh UUIDv7
// session id, rewrites the meta line's timestamp/id fields, and copies
// the parent's prefix up to cut into a new log file under
// sessionsDir/YYYY/MM/DD (local civil date).
func ForkAtCut(sessionsDir, parentLogPath string, cut model.ForkCut) (Result, error) {
	parent, err := os.Open(parentLogPath)
	if err != nil {
		return Result{}, err
	}
	defer parent.Close()

	reader := bufio.NewReader(parent)
	metaLine, err := reader.ReadString('\n')
	if err != nil && metaLine == "" {
		return Result{}, ErrEmptyParent
	}
	metaLine = trimNewline(metaLine)
	if metaLine == "" {
		return Result{}, ErrEmptyParent
	}

	meta := gjson.Parse(metaLine)
	if meta.Get("type").String() != "session_meta" {
		return Result{}, ErrParentMetaUnexpectedType
	}
	if !meta.Get("payload").Exists() {
		return Result{}, ErrParentMetaUnexpectedType
	}

	now := time.Now().UTC()
	nowRFC3339 := now.Format(time.RFC3339)
	sessionID := uuid.Must(uuid.NewV7()).String()

	rewritten, err := sjson.Set(metaLine, "timestamp", nowRFC3339)
	if err != nil {
		return Result{}, err
	}
	rewritten, err = sjson.Set(rewritten, "payload.id", sessionID)
	if err != nil {
		return Result{}, err
	}
	rewritten, err = sjson.Set(rewritten, "payload.timestamp", nowRFC3339)
	if err != nil {
		return Result{}, err
	}

	year, month, day, fileStamp := localFileTimestampParts(now)
	dayDir := filepath.Join(sessionsDir, fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month), fmt.Sprintf("%02d", day))
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return Result{}, err
	}

	logPath := filepath.Join(dayDir, fmt.Sprintf("rollout-%s-%s.jsonl", fileStamp, sessionID))
	childFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Result{}, err
	}
	defer childFile.Close()

	writer := bufio.NewWriter(childFile)
	if _, err := writer.WriteString(rewritten); err != nil {
		return Result{}, err
	}
	if err := writer.WriteByte('\n'); err != nil {
		return Result{}, err
	}

	if err := copyParentPrefix(reader, writer, cut); err != nil {
		return Result{}, err
	}
	if err := writer.Flush(); err != nil {
		return Result{}, err
	}

	return Result{NewSessionID: sessionID, NewLogPath: logPath}, nil
}

// copyParentPrefix copies lines 2..N of the parent into writer
// according to cut, per spec §4.4's BeforeLine/AfterLine semantics.
func copyParentPrefix(reader *bufio.Reader, writer *bufio.Writer, cut model.ForkCut) error {
	if cut.Kind == model.CutBeforeLine && cut.LineNo <= 2 {
		return nil
	}

	currentLineNo := 1
	reached := cut.LineNo <= 1

	for !reached {
		line, err := reader.ReadString('\n')
		if line == "" && err != nil {
			break
		}
		currentLineNo++

		switch cut.Kind {
		case model.CutAfterLine:
			if currentLineNo > cut.LineNo {
				reached = true
			} else {
				if _, werr := writer.WriteString(line); werr != nil {
					return werr
				}
				if !hasTrailingNewline(line) {
					if werr := writer.WriteByte('\n'); werr != nil {
						return werr
					}
				}
				if currentLineNo == cut.LineNo {
					reached = true
				}
			}
		case model.CutBeforeLine:
			if currentLineNo >= cut.LineNo {
				reached = true
			} else {
				if _, werr := writer.WriteString(line); werr != nil {
					return werr
				}
				if !hasTrailingNewline(line) {
					if werr := writer.WriteByte('\n'); werr != nil {
						return werr
					}
				}
			}
		}

		if err != nil {
			break
		}
	}

	if !reached {
		return &CutOutOfRangeError{LineNo: cut.LineNo}
	}
	return nil
}

func hasTrailingNewline(s string) bool {
	return len(s) > 0 && s[len(s)-1] == '\n'
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// localFileTimestampParts formats the civil date/time components used
// for the child's day-directory and filename, in OS localtime.
func localFileTimestampParts(nowUTC time.Time) (year, month, day int, fileStamp string) {
	local := nowUTC.Local()
	fileStamp = local.Format("2006-01-02T15-04-05")
	return local.Year(), int(local.Month()), local.Day(), fileStamp
}
