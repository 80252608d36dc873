package parser

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/agentctl/agentctl/internal/model"
)

// ErrALineEmpty is returned when an A-Line log has no lines at all.
var ErrALineEmpty = errors.New("a-line: empty log")

// ErrALineMetaUnexpectedType is returned when the first line of an
// A-Line log is not a well-formed session_meta record.
var ErrALineMetaUnexpectedType = errors.New("a-line: first line is not session_meta")

const maxALineLineBytes = 8 * 1024 * 1024

// ParseALineMetaLine parses the mandatory first line of an A-Line log
// into a model.SessionMeta. It fails closed: any shape mismatch is an
// error, never a best-effort guess.
func ParseALineMetaLine(line string) (model.SessionMeta, error) {
	v := gjson.Parse(line)
	if v.Get("type").String() != "session_meta" {
		return model.SessionMeta{}, ErrALineMetaUnexpectedType
	}
	payload := v.Get("payload")
	id := payload.Get("id").String()
	if id == "" {
		return model.SessionMeta{}, ErrALineMetaUnexpectedType
	}
	return model.SessionMeta{
		ID:        id,
		Cwd:       payload.Get("cwd").String(),
		StartedAt: payload.Get("timestamp").String(),
	}, nil
}

// ParseALine parses an entire A-Line log (session_meta header plus
// turn_context / event_msg / response_item records) into a ParseResult
// and the session's header metadata.
func ParseALine(r io.Reader) (*ParseResult, model.SessionMeta, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxALineLineBytes)

	result := newParseResult()
	tracker := newTurnTracker()
	var meta model.SessionMeta
	var currentTurnID string
	sawMeta := false
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawMeta {
			m, err := ParseALineMetaLine(line)
			if err != nil {
				return nil, model.SessionMeta{}, err
			}
			meta = m
			sawMeta = true
			continue
		}

		parsed := parseALineRecord(gjson.Parse(line), currentTurnID, lineNo)
		switch parsed.kind {
		case alTurnContext:
			tracker.noteTurnContext(parsed.ctx.TurnID, lineNo)
			result.TurnContexts[parsed.ctx.TurnID] = parsed.ctx
			currentTurnID = parsed.ctx.TurnID
		case alTurnIDHint:
			currentTurnID = parsed.turnIDHint
		case alTurnAborted:
			tracker.recordTurnAborted(currentTurnID)
		case alItem:
			item := parsed.item
			if item.Kind == model.KindUser {
				if tracker.isDuplicateUserPrompt(currentTurnID, item.Detail) {
					continue
				}
				tracker.recordUserPrompt(currentTurnID, item.Detail)
			}
			tracker.maybeEmitTurnMarker(result, currentTurnID)
			if item.Kind == model.KindTokenCount {
				tracker.dedupTokenCount(result, item)
			} else if !result.addItem(item) {
				// ceiling reached; stop scanning entirely
				return result, meta, scanner.Err()
			}
		}
	}

	if !sawMeta {
		return nil, model.SessionMeta{}, ErrALineEmpty
	}
	return result, meta, scanner.Err()
}

type alineKind int

const (
	alIgnore alineKind = iota
	alTurnContext
	alTurnIDHint
	alTurnAborted
	alItem
)

type alineParsed struct {
	kind       alineKind
	ctx        model.TurnContextSummary
	turnIDHint string
	item       model.TimelineItem
}

func parseALineRecord(v gjson.Result, currentTurnID string, lineNo int) alineParsed {
	timestamp := v.Get("timestamp").String()
	timestampMs := rfc3339ToUnixMs(timestamp)
	lineType := v.Get("type").String()

	switch lineType {
	case "turn_context":
		return parseALineTurnContext(v.Get("payload"))
	case "event_msg":
		return parseALineEventMsg(v.Get("payload"), currentTurnID, timestamp, timestampMs)
	case "response_item":
		return parseALineResponseItem(v.Get("payload"), currentTurnID, timestamp, timestampMs)
	default:
		return alineParsed{kind: alIgnore}
	}
}

func parseALineTurnContext(payload gjson.Result) alineParsed {
	turnID := payload.Get("turn_id").String()
	if turnID == "" {
		return alineParsed{kind: alIgnore}
	}
	ctx := model.TurnContextSummary{
		TurnID:         turnID,
		Cwd:            payload.Get("cwd").String(),
		Model:          payload.Get("model").String(),
		Personality:    payload.Get("personality").String(),
		ApprovalPolicy: payload.Get("approval_policy").String(),
		SandboxPolicy:  payload.Get("sandbox_policy.type").String(),
	}
	if ui := payload.Get("user_instructions"); ui.Exists() {
		ctx.UserInstructionsLen = len(ui.String())
	}
	if di := payload.Get("collaboration_mode.settings.developer_instructions"); di.Exists() {
		ctx.DeveloperInstructionsLen = len(di.String())
	}
	return alineParsed{kind: alTurnContext, ctx: ctx}
}

func parseALineEventMsg(payload gjson.Result, currentTurnID, timestamp string, timestampMs int64) alineParsed {
	payloadType := payload.Get("type").String()

	switch payloadType {
	case "task_started":
		if turnID := payload.Get("turn_id").String(); turnID != "" {
			return alineParsed{kind: alTurnIDHint, turnIDHint: turnID}
		}
		return alineParsed{kind: alIgnore}
	case "user_message":
		// Ignored: the response_item form of the same prompt carries it
		// through the normal message pipeline (dedup, metadata filter).
		return alineParsed{kind: alIgnore}
	case "turn_aborted":
		return alineParsed{kind: alTurnAborted}
	case "token_count":
		info := payload.Get("info")
		if !info.Exists() || info.Type == gjson.Null {
			return alineParsed{kind: alIgnore}
		}
		total := info.Get("total_token_usage.total_tokens")
		last := info.Get("last_token_usage.total_tokens")
		var summary string
		switch {
		case total.Exists() && last.Exists():
			summary = "tokens: total=" + total.String() + " last=" + last.String()
		case total.Exists():
			summary = "tokens: total=" + total.String()
		default:
			summary = "tokens"
		}
		return alineParsed{kind: alItem, item: model.TimelineItem{
			Kind:        model.KindTokenCount,
			TurnID:      currentTurnID,
			Timestamp:   timestamp,
			TimestampMs: timestampMs,
			Summary:     summary,
			Detail:      info.Raw,
		}}
	default:
		return alineParsed{kind: alIgnore}
	}
}

func parseALineResponseItem(payload gjson.Result, currentTurnID, timestamp string, timestampMs int64) alineParsed {
	payloadType := payload.Get("type").String()
	switch payloadType {
	case "reasoning":
		var parts []string
		payload.Get("summary").ForEach(func(_, entry gjson.Result) bool {
			if entry.Get("type").String() == "summary_text" {
				if text := strings.TrimSpace(entry.Get("text").String()); text != "" {
					parts = append(parts, text)
				}
			}
			return true
		})
		if len(parts) == 0 {
			return alineParsed{kind: alIgnore}
		}
		detail := strings.Join(parts, "\n\n")
		summary := firstNonEmptyLine(detail)
		if summary == "" {
			summary = "thinking"
		}
		return alineParsed{kind: alItem, item: model.TimelineItem{
			Kind: model.KindThinking, TurnID: currentTurnID,
			Timestamp: timestamp, TimestampMs: timestampMs,
			Summary: summary, Detail: detail,
		}}
	case "message":
		return parseALineMessage(payload, currentTurnID, timestamp, timestampMs)
	case "function_call":
		name := payload.Get("name").String()
		if name == "" {
			name = "function_call"
		}
		return alineParsed{kind: alItem, item: model.TimelineItem{
			Kind: model.KindToolCall, TurnID: currentTurnID,
			CallID: payload.Get("call_id").String(),
			Timestamp: timestamp, TimestampMs: timestampMs,
			Summary: name + "()", Detail: payload.Get("arguments").String(),
			Category: NormalizeToolCategory(name),
		}}
	case "function_call_output":
		output := payload.Get("output").String()
		if strings.TrimSpace(output) == "" {
			return alineParsed{kind: alIgnore}
		}
		summary := firstNonEmptyLine(output)
		if summary == "" {
			summary = "(tool output)"
		}
		return alineParsed{kind: alItem, item: model.TimelineItem{
			Kind: model.KindToolOutput, TurnID: currentTurnID,
			CallID: payload.Get("call_id").String(),
			Timestamp: timestamp, TimestampMs: timestampMs,
			Summary: summary, Detail: output,
		}}
	case "custom_tool_call":
		name := payload.Get("name").String()
		if name == "" {
			name = "tool_call"
		}
		return alineParsed{kind: alItem, item: model.TimelineItem{
			Kind: model.KindToolCall, TurnID: currentTurnID,
			CallID: payload.Get("call_id").String(),
			Timestamp: timestamp, TimestampMs: timestampMs,
			Summary: name, Detail: payload.Get("input").String(),
			Category: NormalizeToolCategory(name),
		}}
	case "custom_tool_call_output":
		raw := payload.Get("output").String()
		if strings.TrimSpace(raw) == "" {
			return alineParsed{kind: alIgnore}
		}
		outputText := raw
		if inner := gjson.Parse(raw); inner.IsObject() {
			if o := inner.Get("output"); o.Exists() {
				outputText = o.String()
			}
		}
		summary := firstNonEmptyLine(outputText)
		if summary == "" {
			summary = "(tool output)"
		}
		return alineParsed{kind: alItem, item: model.TimelineItem{
			Kind: model.KindToolOutput, TurnID: currentTurnID,
			CallID: payload.Get("call_id").String(),
			Timestamp: timestamp, TimestampMs: timestampMs,
			Summary: summary, Detail: outputText,
		}}
	default:
		return alineParsed{kind: alIgnore}
	}
}

func parseALineMessage(payload gjson.Result, currentTurnID, timestamp string, timestampMs int64) alineParsed {
	role := payload.Get("role").String()
	content := payload.Get("content")
	if !content.IsArray() {
		return alineParsed{kind: alIgnore}
	}

	var texts []string
	content.ForEach(func(_, item gjson.Result) bool {
		t := item.Get("type").String()
		if t == "input_text" || t == "output_text" {
			if text := item.Get("text").String(); text != "" {
				texts = append(texts, text)
			}
		}
		return true
	})
	joined := strings.Join(texts, "\n")
	if strings.TrimSpace(joined) == "" {
		return alineParsed{kind: alIgnore}
	}
	if role == "user" && IsMetadataPrompt(joined) {
		return alineParsed{kind: alIgnore}
	}
	if role == "developer" {
		return alineParsed{kind: alIgnore}
	}

	kind := model.KindNote
	switch role {
	case "assistant":
		kind = model.KindAssistant
	case "user":
		kind = model.KindUser
	}

	summary := firstNonEmptyLine(joined)
	if summary == "" {
		summary = "(message)"
	}
	return alineParsed{kind: alItem, item: model.TimelineItem{
		Kind: kind, TurnID: currentTurnID,
		Timestamp: timestamp, TimestampMs: timestampMs,
		Summary: summary, Detail: joined,
	}}
}

// rfc3339ToUnixMs parses an RFC3339 timestamp into unix milliseconds,
// returning 0 on any parse failure (timestamp_ms is then left unset).
func rfc3339ToUnixMs(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
