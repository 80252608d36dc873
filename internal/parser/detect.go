package parser

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/agentctl/agentctl/internal/model"
)

// maxDetectSniffLines bounds how much of a candidate file Detect reads
// before falling back to the A-Line default.
const maxDetectSniffLines = 50

var bLineRecordTypes = map[string]bool{
	"user": true, "assistant": true, "summary": true,
	"progress": true, "file-history-snapshot": true,
}

// Detect identifies which on-disk log shape path holds, per spec
// §4.5: a C-Line document is named session-*.json under a chats/
// parent directory; otherwise the first 50 JSONL records are sniffed
// for a B-Line type marker; anything else defaults to A-Line.
func Detect(path string) model.SessionEngine {
	name := filepath.Base(path)
	parent := filepath.Base(filepath.Dir(path))
	if parent == "chats" && strings.HasPrefix(name, "session-") && strings.HasSuffix(name, ".json") {
		return model.EngineC
	}

	if sniffBLine(path) {
		return model.EngineB
	}
	return model.EngineA
}

func sniffBLine(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBLineLineBytes)

	for i := 0; i < maxDetectSniffLines && scanner.Scan(); i++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if bLineRecordTypes[gjson.Get(line, "type").String()] {
			return true
		}
	}
	return false
}
