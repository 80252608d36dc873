package parser

import (
	"strings"
	"testing"

	"github.com/agentctl/agentctl/internal/model"
	"github.com/agentctl/agentctl/internal/testjsonl"
)

func kindsOf(items []model.TimelineItem) []model.TimelineItemKind {
	kinds := make([]model.TimelineItemKind, len(items))
	for i, item := range items {
		kinds[i] = item.Kind
	}
	return kinds
}

func TestParseBLine_UserAndAssistant(t *testing.T) {
	content := testjsonl.NewSessionBuilder().
		AddClaudeUser("2026-01-01T00:00:00Z", "fix the bug").
		AddClaudeAssistant("2026-01-01T00:00:01Z", "looking into it").
		String()

	result, err := ParseBLine(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ParseBLine: %v", err)
	}
	if len(result.Items) != 3 {
		t.Fatalf("want 3 items (turn marker + user + assistant), got %d: %+v", len(result.Items), result.Items)
	}
	if result.Items[0].Kind != model.KindTurn {
		t.Errorf("item 0 kind = %s, want Turn", result.Items[0].Kind)
	}
	if result.Items[1].Kind != model.KindUser || result.Items[1].Detail != "fix the bug" {
		t.Errorf("item 1 = %+v", result.Items[1])
	}
	if result.Items[2].Kind != model.KindAssistant || result.Items[2].Detail != "looking into it" {
		t.Errorf("item 2 = %+v", result.Items[2])
	}
	if result.Items[1].TurnID == "" || result.Items[1].TurnID != result.Items[2].TurnID {
		t.Errorf("expected user and assistant to share a turn id, got %q and %q", result.Items[1].TurnID, result.Items[2].TurnID)
	}
}

func TestParseBLine_EachUserLineOpensItsOwnTurn(t *testing.T) {
	content := testjsonl.NewSessionBuilder().
		AddClaudeUser("2026-01-01T00:00:00Z", "same prompt").
		AddClaudeUser("2026-01-01T00:00:05Z", "same prompt").
		String()

	result, err := ParseBLine(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ParseBLine: %v", err)
	}
	// B-Line has no turn_context records, so a fresh turn begins at every
	// non-metadata User item (see ParseBLine's doc comment); unlike
	// A-Line, repeated identical text across two distinct turns is not a
	// dedupable retry and both survive.
	want := []model.TimelineItemKind{model.KindTurn, model.KindUser, model.KindTurn, model.KindUser}
	if got := kindsOf(result.Items); !equalKinds(got, want) {
		t.Fatalf("got kinds %v, want %v (items: %+v)", got, want, result.Items)
	}
	if result.Items[1].TurnID == result.Items[3].TurnID {
		t.Errorf("expected distinct turn ids, both got %q", result.Items[1].TurnID)
	}
}

func equalKinds(a, b []model.TimelineItemKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestParseBLine_MetaUserSkipped(t *testing.T) {
	content := testjsonl.JoinJSONL(
		testjsonl.ClaudeMetaUserJSON("<environment_context>\ncwd: /tmp\n</environment_context>", "2026-01-01T00:00:00Z", true, false),
		testjsonl.ClaudeUserJSON("real prompt", "2026-01-01T00:00:01Z"),
	)
	result, err := ParseBLine(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ParseBLine: %v", err)
	}
	// The metadata prompt never reaches the turn counter, so the real
	// prompt opens the first (and only) turn.
	if len(result.Items) != 2 {
		t.Fatalf("want 2 items (turn marker + user), got %d: %+v", len(result.Items), result.Items)
	}
	if result.Items[1].Detail != "real prompt" {
		t.Errorf("got %+v", result.Items[1])
	}
}

func TestParseBLine_AssistantToolUseAndThinking(t *testing.T) {
	assistant := testjsonl.ClaudeAssistantJSON([]map[string]any{
		{"type": "thinking", "thinking": "considering options"},
		{"type": "tool_use", "id": "call_1", "name": "Bash", "input": map[string]string{"command": "ls"}},
		{"type": "text", "text": "done"},
	}, "2026-01-01T00:00:00Z")

	result, err := ParseBLine(strings.NewReader(assistant))
	if err != nil {
		t.Fatalf("ParseBLine: %v", err)
	}
	// No user item ever opened a turn, so no Turn marker is emitted and
	// the three assistant-record items pass through untouched.
	if len(result.Items) != 3 {
		t.Fatalf("want 3 items, got %d: %+v", len(result.Items), result.Items)
	}
	if result.Items[0].Kind != model.KindThinking {
		t.Errorf("item 0 kind = %s", result.Items[0].Kind)
	}
	if result.Items[1].Kind != model.KindToolCall || result.Items[1].Category != "Bash" || result.Items[1].CallID != "call_1" {
		t.Errorf("item 1 = %+v", result.Items[1])
	}
	if result.Items[2].Kind != model.KindAssistant || result.Items[2].Detail != "done" {
		t.Errorf("item 2 = %+v", result.Items[2])
	}
}

func TestParseBLine_ToolResultUser(t *testing.T) {
	raw := `{"type":"user","timestamp":"2026-01-01T00:00:00Z","message":{"content":[{"type":"tool_result","tool_use_id":"call_1","content":"file contents"}]}}`
	result, err := ParseBLine(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseBLine: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("want 1 item, got %d: %+v", len(result.Items), result.Items)
	}
	if result.Items[0].Kind != model.KindToolOutput || result.Items[0].CallID != "call_1" {
		t.Errorf("got %+v", result.Items[0])
	}
}

func TestParseBLine_SummaryBecomesNote(t *testing.T) {
	raw := `{"type":"summary","summary":"session recap"}`
	result, err := ParseBLine(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseBLine: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].Kind != model.KindNote {
		t.Fatalf("got %+v", result.Items)
	}
}

func TestParseBLine_IgnoredRecordTypes(t *testing.T) {
	content := testjsonl.JoinJSONL(
		`{"type":"file-history-snapshot"}`,
		`{"type":"progress"}`,
	)
	result, err := ParseBLine(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ParseBLine: %v", err)
	}
	if len(result.Items) != 0 {
		t.Fatalf("want 0 items, got %d: %+v", len(result.Items), result.Items)
	}
}
