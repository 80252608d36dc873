// Package parser turns the four on-disk session log shapes (A/B/C-Line
// and the D-Relational store) into canonical model.TimelineItem streams.
// Each parser is independent; callers dispatch on the result of Detect.
package parser

import "github.com/agentctl/agentctl/internal/model"

// FileInfo holds file system metadata for a session source file.
type FileInfo struct {
	Path  string
	Size  int64
	Mtime int64
}

// ParseResult is what every format-specific parser returns: the ordered
// canonical items, the turn contexts declared along the way, a warning
// count for tolerated record-level errors, and whether the item ceiling
// truncated the stream.
type ParseResult struct {
	Items        []model.TimelineItem
	TurnContexts map[string]model.TurnContextSummary
	Warnings     int
	Truncated    bool
}

func newParseResult() *ParseResult {
	return &ParseResult{
		TurnContexts: make(map[string]model.TurnContextSummary),
	}
}

// addItem appends an item, honoring the MaxTimelineItems ceiling. When
// the ceiling has already been reached the item is dropped, Truncated is
// set and it returns false, signalling the caller to stop parsing.
func (r *ParseResult) addItem(item model.TimelineItem) bool {
	if len(r.Items) >= model.MaxTimelineItems {
		r.Truncated = true
		return false
	}
	r.Items = append(r.Items, item)
	return true
}
