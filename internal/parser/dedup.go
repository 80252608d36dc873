package parser

import (
	"strings"

	"github.com/agentctl/agentctl/internal/model"
)

// turnTracker applies the three ordering rules every parser that has a
// notion of "turns" must respect (spec §4.3 (a)-(c)): synthetic Turn
// markers on turn_id transitions, per-turn user-prompt dedup (including
// a floating aborted-prompt carry-over), and token-count fingerprint
// dedup that keeps only the latest occurrence.
type turnTracker struct {
	lastTurnID       string
	turnSeen         bool
	turnFirstLine    map[string]int
	lastUserPrompt   map[string]string
	pendingAborted   *string
	lastTokenFP      string
	lastTokenIdx     int
	haveLastToken    bool
}

func newTurnTracker() *turnTracker {
	return &turnTracker{
		turnFirstLine:  make(map[string]int),
		lastUserPrompt: make(map[string]string),
	}
}

// noteTurnContext records the source line at which a turn_id's context
// was first declared, for use as the synthetic Turn marker's line number.
func (t *turnTracker) noteTurnContext(turnID string, lineNo int) {
	if _, ok := t.turnFirstLine[turnID]; !ok {
		t.turnFirstLine[turnID] = lineNo
	}
}

// maybeEmitTurnMarker emits a synthetic Turn item into r iff turnID
// differs from the last emitted item's turn_id. Must be called before
// appending the real item that carries turnID.
func (t *turnTracker) maybeEmitTurnMarker(r *ParseResult, turnID string) {
	if turnID == "" {
		return
	}
	if t.turnSeen && turnID == t.lastTurnID {
		return
	}
	t.turnSeen = true
	t.lastTurnID = turnID

	lineNo := t.turnFirstLine[turnID]
	r.addItem(model.TimelineItem{
		Kind:         model.KindTurn,
		TurnID:       turnID,
		SourceLineNo: lineNo,
		Detail:       turnID,
	})
}

// isDuplicateUserPrompt reports whether detail (right-trimmed) matches
// either the last recorded prompt for turnID or the pending aborted
// prompt, per spec §4.3 (b).
func (t *turnTracker) isDuplicateUserPrompt(turnID, detail string) bool {
	trimmed := strings.TrimRight(detail, " \t\r\n")
	if prev, ok := t.lastUserPrompt[turnID]; ok && prev == trimmed {
		return true
	}
	if t.pendingAborted != nil && *t.pendingAborted == trimmed {
		return true
	}
	return false
}

// recordUserPrompt remembers detail as the latest prompt seen for turnID
// and clears any pending-aborted marker (it has now been re-asked).
func (t *turnTracker) recordUserPrompt(turnID, detail string) {
	trimmed := strings.TrimRight(detail, " \t\r\n")
	t.lastUserPrompt[turnID] = trimmed
	t.pendingAborted = nil
}

// recordTurnAborted sets the floating pending-aborted prompt so a
// subsequent identical retry is recognized as a duplicate even once it
// lands in a new turn.
func (t *turnTracker) recordTurnAborted(turnID string) {
	if prompt, ok := t.lastUserPrompt[turnID]; ok {
		p := prompt
		t.pendingAborted = &p
	}
}

// dedupTokenCount implements spec §4.3 (c): if the last emitted
// TokenCount item has the same fingerprint (its Detail blob) as the new
// one, the previous occurrence is removed before the new one is
// appended, keeping only the latest.
func (t *turnTracker) dedupTokenCount(r *ParseResult, item model.TimelineItem) {
	fp := item.Detail
	if t.haveLastToken && t.lastTokenFP == fp && t.lastTokenIdx < len(r.Items) &&
		r.Items[t.lastTokenIdx].Kind == model.KindTokenCount {
		r.Items = append(r.Items[:t.lastTokenIdx], r.Items[t.lastTokenIdx+1:]...)
	}
	r.addItem(item)
	t.lastTokenFP = fp
	t.lastTokenIdx = len(r.Items) - 1
	t.haveLastToken = true
}

// IsMetadataPrompt matches the exact heuristics original_source uses to
// recognize synthetic system/metadata prompts that must never win the
// session title or close a skill span: "# AGENTS.md instructions"
// heading, <environment_context>, <INSTRUCTIONS>, and <skill>...</skill>.
func IsMetadataPrompt(text string) bool {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if strings.HasPrefix(trimmed, "# AGENTS.md instructions") {
		return true
	}
	if strings.HasPrefix(trimmed, "<environment_context>") {
		return true
	}
	if strings.HasPrefix(trimmed, "<INSTRUCTIONS>") {
		return true
	}
	if strings.HasPrefix(trimmed, "<skill>") && strings.Contains(trimmed, "</skill>") {
		return true
	}
	return false
}

// firstNonEmptyLine returns the first non-blank trimmed line of s, or "".
func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
