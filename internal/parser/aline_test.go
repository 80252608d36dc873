package parser

import (
	"strings"
	"testing"

	"github.com/agentctl/agentctl/internal/model"
	"github.com/agentctl/agentctl/internal/testjsonl"
)

func TestParseALineMetaLine_OK(t *testing.T) {
	line := testjsonl.CodexSessionMetaJSON("sess-1", "/home/dev/proj", "cli", "2026-01-01T00:00:00Z")
	meta, err := ParseALineMetaLine(line)
	if err != nil {
		t.Fatalf("ParseALineMetaLine: %v", err)
	}
	if meta.ID != "sess-1" || meta.Cwd != "/home/dev/proj" {
		t.Errorf("got %+v", meta)
	}
}

func TestParseALineMetaLine_WrongType(t *testing.T) {
	if _, err := ParseALineMetaLine(`{"type":"turn_context","payload":{}}`); err != ErrALineMetaUnexpectedType {
		t.Fatalf("got err %v, want ErrALineMetaUnexpectedType", err)
	}
}

func TestParseALineMetaLine_MissingID(t *testing.T) {
	if _, err := ParseALineMetaLine(`{"type":"session_meta","payload":{"cwd":"/tmp"}}`); err != ErrALineMetaUnexpectedType {
		t.Fatalf("got err %v, want ErrALineMetaUnexpectedType", err)
	}
}

func TestParseALine_EmptyLogErrors(t *testing.T) {
	if _, _, err := ParseALine(strings.NewReader("")); err != ErrALineEmpty {
		t.Fatalf("got err %v, want ErrALineEmpty", err)
	}
}

func TestParseALine_FirstLineMustBeMeta(t *testing.T) {
	content := testjsonl.JoinJSONL(`{"type":"turn_context","payload":{"turn_id":"t1"}}`)
	if _, _, err := ParseALine(strings.NewReader(content)); err != ErrALineMetaUnexpectedType {
		t.Fatalf("got err %v, want ErrALineMetaUnexpectedType", err)
	}
}

func TestParseALine_MessageTurnsAndTokenCount(t *testing.T) {
	content := testjsonl.JoinJSONL(
		testjsonl.CodexSessionMetaJSON("sess-1", "/proj", "cli", "2026-01-01T00:00:00Z"),
		`{"type":"turn_context","timestamp":"2026-01-01T00:00:01Z","payload":{"turn_id":"t1","cwd":"/proj","model":"gpt","approval_policy":"auto"}}`,
		testjsonl.CodexMsgJSON("user", "fix the bug", "2026-01-01T00:00:02Z"),
		testjsonl.CodexMsgJSON("assistant", "on it", "2026-01-01T00:00:03Z"),
		`{"type":"event_msg","timestamp":"2026-01-01T00:00:04Z","payload":{"type":"token_count","info":{"total_token_usage":{"total_tokens":100},"last_token_usage":{"total_tokens":20}}}}`,
	)

	result, meta, err := ParseALine(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ParseALine: %v", err)
	}
	if meta.ID != "sess-1" {
		t.Fatalf("meta = %+v", meta)
	}
	if _, ok := result.TurnContexts["t1"]; !ok {
		t.Fatalf("expected turn context t1 to be recorded, got %+v", result.TurnContexts)
	}

	want := []model.TimelineItemKind{
		model.KindTurn, model.KindUser, model.KindAssistant, model.KindTokenCount,
	}
	if got := kindsOf(result.Items); !equalKinds(got, want) {
		t.Fatalf("got kinds %v, want %v (items: %+v)", got, want, result.Items)
	}
	for _, item := range result.Items {
		if item.TurnID != "t1" {
			t.Errorf("item %+v: want turn id t1", item)
		}
	}
}

func TestParseALine_FunctionCallAndOutput(t *testing.T) {
	content := testjsonl.JoinJSONL(
		testjsonl.CodexSessionMetaJSON("sess-1", "/proj", "cli", "2026-01-01T00:00:00Z"),
		`{"type":"turn_context","timestamp":"2026-01-01T00:00:01Z","payload":{"turn_id":"t1"}}`,
		testjsonl.CodexFunctionCallJSON("shell_command", "", "2026-01-01T00:00:02Z"),
		`{"type":"response_item","timestamp":"2026-01-01T00:00:03Z","payload":{"type":"function_call_output","call_id":"call_test","output":"file contents"}}`,
	)

	result, _, err := ParseALine(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ParseALine: %v", err)
	}
	want := []model.TimelineItemKind{model.KindTurn, model.KindToolCall, model.KindToolOutput}
	if got := kindsOf(result.Items); !equalKinds(got, want) {
		t.Fatalf("got kinds %v, want %v (items: %+v)", got, want, result.Items)
	}
	call := result.Items[1]
	if call.Category != "Bash" || call.CallID != "call_test" {
		t.Errorf("call item = %+v", call)
	}
	output := result.Items[2]
	if output.CallID != "call_test" || output.Detail != "file contents" {
		t.Errorf("output item = %+v", output)
	}
}

func TestParseALine_ReasoningBecomesThinking(t *testing.T) {
	content := testjsonl.JoinJSONL(
		testjsonl.CodexSessionMetaJSON("sess-1", "/proj", "cli", "2026-01-01T00:00:00Z"),
		`{"type":"turn_context","timestamp":"2026-01-01T00:00:01Z","payload":{"turn_id":"t1"}}`,
		`{"type":"response_item","timestamp":"2026-01-01T00:00:02Z","payload":{"type":"reasoning","summary":[{"type":"summary_text","text":"weighing approaches"}]}}`,
	)
	result, _, err := ParseALine(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ParseALine: %v", err)
	}
	want := []model.TimelineItemKind{model.KindTurn, model.KindThinking}
	if got := kindsOf(result.Items); !equalKinds(got, want) {
		t.Fatalf("got kinds %v, want %v (items: %+v)", got, want, result.Items)
	}
	if result.Items[1].Detail != "weighing approaches" {
		t.Errorf("got %+v", result.Items[1])
	}
}

func TestParseALine_TaskStartedSetsTurnIDWithoutContext(t *testing.T) {
	content := testjsonl.JoinJSONL(
		testjsonl.CodexSessionMetaJSON("sess-1", "/proj", "cli", "2026-01-01T00:00:00Z"),
		`{"type":"event_msg","timestamp":"2026-01-01T00:00:01Z","payload":{"type":"task_started","turn_id":"t9"}}`,
		testjsonl.CodexMsgJSON("user", "hello", "2026-01-01T00:00:02Z"),
	)
	result, _, err := ParseALine(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ParseALine: %v", err)
	}
	want := []model.TimelineItemKind{model.KindTurn, model.KindUser}
	if got := kindsOf(result.Items); !equalKinds(got, want) {
		t.Fatalf("got kinds %v, want %v (items: %+v)", got, want, result.Items)
	}
	if result.Items[1].TurnID != "t9" {
		t.Errorf("got turn id %q, want t9", result.Items[1].TurnID)
	}
}
