package parser

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/agentctl/agentctl/internal/model"
)

const maxBLineLineBytes = 8 * 1024 * 1024

// ParseBLine parses a B-Line chat transcript: one flat JSON-line record
// per message, `type` in {user, assistant, summary, file-history-snapshot,
// progress}. Unlike A-Line, B-Line carries no explicit turn_context
// records, so a fresh turn begins at every non-metadata User item; the
// remaining rules of spec §4.3 apply uniformly across engines.
func ParseBLine(r io.Reader) (*ParseResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBLineLineBytes)

	result := newParseResult()
	tracker := newTurnTracker()
	var currentTurnID string
	turnCounter := 0
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v := gjson.Parse(line)
		items := parseBLineRecord(v, lineNo)
		for _, item := range items {
			if item.Kind == model.KindUser {
				if IsMetadataPrompt(item.Detail) {
					continue
				}
				turnCounter++
				currentTurnID = bTurnID(turnCounter)
				if tracker.isDuplicateUserPrompt(currentTurnID, item.Detail) {
					continue
				}
				tracker.recordUserPrompt(currentTurnID, item.Detail)
			}
			item.TurnID = currentTurnID
			tracker.maybeEmitTurnMarker(result, currentTurnID)
			if !result.addItem(item) {
				return result, nil
			}
		}
	}
	return result, scanner.Err()
}

func bTurnID(n int) string {
	return "turn-" + strconv.Itoa(n)
}

// parseBLineRecord turns one B-Line record into zero or more timeline
// items (a single assistant record can expand into Thinking + Assistant
// + multiple ToolCall items).
func parseBLineRecord(v gjson.Result, lineNo int) []model.TimelineItem {
	recordType := v.Get("type").String()
	timestamp := v.Get("timestamp").String()
	timestampMs := rfc3339ToUnixMs(timestamp)

	switch recordType {
	case "user":
		return parseBLineUser(v, lineNo, timestamp, timestampMs)
	case "assistant":
		return parseBLineAssistant(v, lineNo, timestamp, timestampMs)
	case "summary":
		summary := v.Get("summary").String()
		if summary == "" {
			return nil
		}
		return []model.TimelineItem{{
			Kind: model.KindNote, SourceLineNo: lineNo,
			Timestamp: timestamp, TimestampMs: timestampMs,
			Summary: firstNonEmptyLineOr(summary, "(summary)"), Detail: summary,
		}}
	case "file-history-snapshot", "progress":
		return nil
	default:
		return nil
	}
}

func parseBLineUser(v gjson.Result, lineNo int, timestamp string, timestampMs int64) []model.TimelineItem {
	content := v.Get("message.content")
	if content.Type == gjson.String {
		text := content.String()
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []model.TimelineItem{{
			Kind: model.KindUser, SourceLineNo: lineNo,
			Timestamp: timestamp, TimestampMs: timestampMs,
			Summary: firstNonEmptyLineOr(text, "(message)"), Detail: text,
		}}
	}
	if !content.IsArray() {
		return nil
	}

	var items []model.TimelineItem
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "tool_result":
			text := blockText(block.Get("content"))
			if strings.TrimSpace(text) == "" {
				return true
			}
			items = append(items, model.TimelineItem{
				Kind: model.KindToolOutput, SourceLineNo: lineNo,
				CallID:    block.Get("tool_use_id").String(),
				Timestamp: timestamp, TimestampMs: timestampMs,
				Summary: firstNonEmptyLineOr(text, "(tool output)"), Detail: text,
			})
		case "text":
			text := block.Get("text").String()
			if strings.TrimSpace(text) == "" {
				return true
			}
			items = append(items, model.TimelineItem{
				Kind: model.KindUser, SourceLineNo: lineNo,
				Timestamp: timestamp, TimestampMs: timestampMs,
				Summary: firstNonEmptyLineOr(text, "(message)"), Detail: text,
			})
		}
		return true
	})
	return items
}

func parseBLineAssistant(v gjson.Result, lineNo int, timestamp string, timestampMs int64) []model.TimelineItem {
	content := v.Get("message.content")
	if !content.IsArray() {
		return nil
	}

	var items []model.TimelineItem
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			text := block.Get("text").String()
			if strings.TrimSpace(text) == "" {
				return true
			}
			items = append(items, model.TimelineItem{
				Kind: model.KindAssistant, SourceLineNo: lineNo,
				Timestamp: timestamp, TimestampMs: timestampMs,
				Summary: firstNonEmptyLineOr(text, "(message)"), Detail: text,
			})
		case "thinking":
			text := block.Get("thinking").String()
			if strings.TrimSpace(text) == "" {
				return true
			}
			items = append(items, model.TimelineItem{
				Kind: model.KindThinking, SourceLineNo: lineNo,
				Timestamp: timestamp, TimestampMs: timestampMs,
				Summary: firstNonEmptyLineOr(text, "thinking"), Detail: text,
			})
		case "tool_use":
			name := block.Get("name").String()
			if name == "" {
				name = "tool_use"
			}
			items = append(items, model.TimelineItem{
				Kind: model.KindToolCall, SourceLineNo: lineNo,
				CallID:    block.Get("id").String(),
				Timestamp: timestamp, TimestampMs: timestampMs,
				Summary: name + "()", Detail: block.Get("input").Raw,
				Category: NormalizeToolCategory(name),
			})
		}
		return true
	})
	return items
}

// blockText extracts text from a tool_result content field, which may
// be a plain string or an array of {type:"text", text} blocks.
func blockText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			if t := block.Get("text").String(); t != "" {
				parts = append(parts, t)
			}
		}
		return true
	})
	return strings.Join(parts, "\n")
}

func firstNonEmptyLineOr(s, fallback string) string {
	if line := firstNonEmptyLine(s); line != "" {
		return line
	}
	return fallback
}
