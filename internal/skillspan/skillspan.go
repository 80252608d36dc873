// Package skillspan detects skill-invocation ranges over a loaded
// timeline (spec §4.6): contiguous runs of items enclosed by a ToolCall
// whose summary is "Skill()", their metrics, and repeated top-level
// invocations ("loops").
package skillspan

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/agentctl/agentctl/internal/model"
	"github.com/agentctl/agentctl/internal/parser"
)

// Span is a contiguous range of timeline items belonging to one skill
// invocation.
type Span struct {
	Name          string
	StartIdx      int
	EndIdx        int // -1 if the skill never closed
	CallID        string
	Depth         int
	ParentSpanIdx int // -1 if top-level
}

// Metrics are aggregated counts for a single span.
type Metrics struct {
	ToolCalls   int
	ToolOutputs int
	DurationMs  int64 // 0 with !HasDuration if either endpoint's timestamp is unknown
	HasDuration bool
	OutputChars int
}

// Loop is two or more consecutive top-level spans of the same skill.
type Loop struct {
	Name        string
	SpanIndices []int
}

func isSkillCall(item model.TimelineItem) bool {
	return item.Kind == model.KindToolCall && item.Summary == "Skill()"
}

// ExtractSkillName reads the "skill" field out of a Skill() ToolCall's
// detail JSON (the B-Line/D-Relational/C-Line convention).
func ExtractSkillName(detailJSON string) (string, bool) {
	v := gjson.Parse(detailJSON)
	name := v.Get("skill").String()
	if name == "" {
		return "", false
	}
	return name, true
}

// ExtractCodexSkillName reads a skill name out of the A-Line
// `<skill><name>...</name></skill>` convention (spec §4.6's Codex-side
// skill marker, distinct from the JSON-detail convention other engines
// use).
func ExtractCodexSkillName(text string) (string, bool) {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(trimmed, "<skill>") {
		return "", false
	}
	nameStart := strings.Index(trimmed, "<name>")
	if nameStart < 0 {
		return "", false
	}
	nameStart += len("<name>")
	nameEnd := strings.Index(trimmed[nameStart:], "</name>")
	if nameEnd < 0 {
		return "", false
	}
	name := strings.TrimSpace(trimmed[nameStart : nameStart+nameEnd])
	if name == "" {
		return "", false
	}
	return name, true
}

// DetectSpans walks items with a stack of open spans: a Skill() call
// with a call_id opens a span nested under the current top; one
// without a call_id force-closes all open spans first. A non-metadata
// User item closes every open span at the prior index.
func DetectSpans(items []model.TimelineItem) []Span {
	var spans []Span
	var stack []int

	for idx, item := range items {
		if isSkillCall(item) {
			if item.CallID == "" {
				closeAllOpenSpans(spans, &stack, idx)
			}

			name, ok := ExtractSkillName(item.Detail)
			if !ok {
				name = "unknown"
			}

			parentSpanIdx := -1
			if len(stack) > 0 {
				parentSpanIdx = stack[len(stack)-1]
			}
			depth := len(stack)

			spanIdx := len(spans)
			spans = append(spans, Span{
				Name:          name,
				StartIdx:      idx,
				EndIdx:        -1,
				CallID:        item.CallID,
				Depth:         depth,
				ParentSpanIdx: parentSpanIdx,
			})
			stack = append(stack, spanIdx)
			continue
		}

		if item.Kind == model.KindUser && !parser.IsMetadataPrompt(item.Detail) {
			closeAllOpenSpans(spans, &stack, idx)
		}
	}

	return spans
}

func closeAllOpenSpans(spans []Span, stack *[]int, idx int) {
	if len(*stack) == 0 {
		return
	}
	endIdx := idx - 1
	if endIdx < 0 {
		endIdx = 0
	}
	for len(*stack) > 0 {
		spanIdx := (*stack)[len(*stack)-1]
		*stack = (*stack)[:len(*stack)-1]
		if spanIdx < len(spans) && spans[spanIdx].EndIdx == -1 {
			spans[spanIdx].EndIdx = endIdx
		}
	}
}

// ComputeMetrics counts ToolCall/ToolOutput items strictly within
// span's range (the enclosing Skill() call itself is excluded from
// tool_calls), sums ToolOutput detail lengths in runes, and derives a
// duration from the span's start and end item timestamps when both are
// known.
func ComputeMetrics(span Span, items []model.TimelineItem) Metrics {
	if len(items) == 0 || span.StartIdx >= len(items) {
		return Metrics{}
	}

	endIdx := span.EndIdx
	if endIdx < 0 {
		endIdx = len(items) - 1
	}
	if endIdx >= len(items) {
		endIdx = len(items) - 1
	}
	if endIdx < span.StartIdx {
		endIdx = span.StartIdx
	}

	var metrics Metrics
	for i := span.StartIdx; i <= endIdx; i++ {
		item := items[i]
		switch item.Kind {
		case model.KindToolCall:
			if i != span.StartIdx {
				metrics.ToolCalls++
			}
		case model.KindToolOutput:
			metrics.ToolOutputs++
			metrics.OutputChars += len([]rune(item.Detail))
		}
	}

	startTs := items[span.StartIdx].TimestampMs
	endTs := items[endIdx].TimestampMs
	if startTs != 0 && endTs != 0 {
		metrics.DurationMs = endTs - startTs
		metrics.HasDuration = true
	}

	return metrics
}

// DetectLoops groups consecutive depth-0 spans by name; a run of
// length 2 or more becomes one Loop.
func DetectLoops(spans []Span) []Loop {
	var out []Loop
	currentName := ""
	haveCurrent := false
	var currentIndices []int

	flush := func() {
		if haveCurrent && len(currentIndices) >= 2 {
			out = append(out, Loop{Name: currentName, SpanIndices: append([]int(nil), currentIndices...)})
		}
	}

	for idx, span := range spans {
		if span.Depth != 0 {
			continue
		}
		if haveCurrent && span.Name == currentName {
			currentIndices = append(currentIndices, idx)
			continue
		}
		flush()
		currentName = span.Name
		haveCurrent = true
		currentIndices = []int{idx}
	}
	flush()

	return out
}
