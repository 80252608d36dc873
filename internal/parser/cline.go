package parser

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/agentctl/agentctl/internal/model"
)

// skillToolName is the raw tool name C-Line uses for skill invocation;
// it is rewritten to the cross-engine "Skill()" convention so skill-span
// analytics (spec §4.6) applies uniformly across engines.
const skillToolName = "activate_skill"

// ParseCLine parses a whole-document C-Line chat (a single JSON file
// with a top-level messages[] array). Unlike A/B-Line, the whole
// document is available up front rather than streamed line by line.
func ParseCLine(doc []byte) (*ParseResult, error) {
	v := gjson.ParseBytes(doc)
	result := newParseResult()
	tracker := newTurnTracker()
	var currentTurnID string
	turnCounter := 0

	messages := v.Get("messages")
	if !messages.IsArray() {
		return result, nil
	}

	var truncated bool
	messages.ForEach(func(idx, msg gjson.Result) bool {
		if truncated {
			return false
		}
		lineNo := int(idx.Int()) + 1
		items, warnings := parseCLineMessage(msg, lineNo)
		result.Warnings += warnings
		for _, item := range items {
			if item.Kind == model.KindUser {
				if IsMetadataPrompt(item.Detail) {
					continue
				}
				turnCounter++
				currentTurnID = "turn-" + strconv.Itoa(turnCounter)
				if tracker.isDuplicateUserPrompt(currentTurnID, item.Detail) {
					continue
				}
				tracker.recordUserPrompt(currentTurnID, item.Detail)
			}
			item.TurnID = currentTurnID
			tracker.maybeEmitTurnMarker(result, currentTurnID)
			if !result.addItem(item) {
				truncated = true
				return false
			}
		}
		return true
	})

	return result, nil
}

func parseCLineMessage(msg gjson.Result, lineNo int) ([]model.TimelineItem, int) {
	switch msg.Get("type").String() {
	case "user":
		text := msg.Get("content").String()
		if strings.TrimSpace(text) == "" {
			return nil, 0
		}
		return []model.TimelineItem{{
			Kind: model.KindUser, SourceLineNo: lineNo,
			Summary: firstNonEmptyLineOr(text, "(message)"), Detail: text,
		}}, 0
	case "gemini":
		return parseCLineGemini(msg, lineNo)
	default:
		return nil, 0
	}
}

func parseCLineGemini(msg gjson.Result, lineNo int) ([]model.TimelineItem, int) {
	var items []model.TimelineItem
	var warnings int

	if thoughts := msg.Get("thoughts").String(); strings.TrimSpace(thoughts) != "" {
		items = append(items, model.TimelineItem{
			Kind: model.KindThinking, SourceLineNo: lineNo,
			Summary: firstNonEmptyLineOr(thoughts, "thinking"), Detail: thoughts,
		})
	}

	content := msg.Get("content")
	contentText := extractCLineContent(content)
	if strings.TrimSpace(contentText) != "" {
		items = append(items, model.TimelineItem{
			Kind: model.KindAssistant, SourceLineNo: lineNo,
			Summary: firstNonEmptyLineOr(contentText, "(message)"), Detail: contentText,
		})
	}

	if tokens := msg.Get("tokens"); tokens.Exists() {
		items = append(items, model.TimelineItem{
			Kind: model.KindTokenCount, SourceLineNo: lineNo,
			Summary: "tokens", Detail: tokens.Raw,
		})
	}

	msg.Get("toolCalls").ForEach(func(_, tc gjson.Result) bool {
		name := tc.Get("name").String()
		callID := tc.Get("id").String()
		if callID == "" {
			warnings++
		}
		var summary, detail string
		if name == skillToolName {
			skillName := tc.Get("args.name").String()
			summary = "Skill()"
			detail = `{"skill":"` + skillName + `"}`
		} else {
			if name == "" {
				name = "tool_call"
			}
			summary = name + "()"
			detail = tc.Get("args").Raw
		}
		items = append(items, model.TimelineItem{
			Kind: model.KindToolCall, SourceLineNo: lineNo,
			CallID: callID, Summary: summary, Detail: detail,
			Category: NormalizeToolCategory(name),
		})

		if result := tc.Get("result"); result.Exists() {
			resultText := result.String()
			if result.IsObject() || result.IsArray() {
				resultText = result.Raw
			}
			items = append(items, model.TimelineItem{
				Kind: model.KindToolOutput, SourceLineNo: lineNo,
				CallID:  callID,
				Summary: firstNonEmptyLineOr(resultText, "(tool output)"),
				Detail:  resultText,
			})
		}
		return true
	})

	return items, warnings
}

// extractCLineContent handles content being either a plain string or an
// array of {text} blocks.
func extractCLineContent(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		if text := block.Get("text").String(); text != "" {
			parts = append(parts, text)
		}
		return true
	})
	return strings.Join(parts, "\n")
}
