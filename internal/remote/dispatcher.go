package remote

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/agentctl/agentctl/internal/index"
	"github.com/agentctl/agentctl/internal/model"
	"github.com/agentctl/agentctl/internal/scanner"
	"github.com/agentctl/agentctl/internal/supervisor"
	"github.com/agentctl/agentctl/internal/tasks"
)

// Info is the static identity an endpoint reports via ccbox.getInfo.
type Info struct {
	CcboxID      string   `json:"ccbox_id"`
	Label        string   `json:"label,omitempty"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

// defaultTimelineLimit and maxTimelineLimit bound sessions.getTimeline's
// limit parameter (spec §4.9: 1..1000, default 200).
const (
	defaultTimelineLimit = 200
	maxTimelineLimit     = 1000
)

// Dispatcher answers every rpc/request against the subsystems it is
// wired to (spec §4.9's method table).
type Dispatcher struct {
	Info       Info
	Sessions   SessionSource
	Tasks      *tasks.DB
	Supervisor *supervisor.Supervisor

	// IndexLookup resolves cached token totals for a log path from the
	// session tokens cache (internal/index, spec §4.2). Nil when no
	// index is wired, in which case sessions.list omits the fields.
	IndexLookup func(logPath string) (index.Entry, bool)
}

// sessionListEntry is one sessions.list row, a SessionSummary enriched
// with the session tokens cache when available.
type sessionListEntry struct {
	model.SessionSummary
	TotalTokens *int `json:"total_tokens,omitempty"`
	LastTokens  *int `json:"last_tokens,omitempty"`
}

func (d *Dispatcher) enrichSessions(sessions []model.SessionSummary) []sessionListEntry {
	out := make([]sessionListEntry, len(sessions))
	for i, s := range sessions {
		entry := sessionListEntry{SessionSummary: s}
		if d.IndexLookup != nil {
			if cached, ok := d.IndexLookup(s.LogPath); ok {
				entry.TotalTokens = cached.TotalTokens
				entry.LastTokens = cached.LastTokens
			}
		}
		out[i] = entry
	}
	return out
}

// Dispatch routes one RPC request to its method handler, translating
// every result or failure into the {ok, result|error} response shape.
func (d *Dispatcher) Dispatch(req RPCRequest) RPCResponse {
	result, err := d.route(req.Method, req.Params)
	if err != nil {
		appErr := apperr.AsAppError(err)
		return RPCResponse{ID: req.ID, OK: false, Error: &RPCError{Code: string(appErr.Code), Message: appErr.Message}}
	}
	raw, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return RPCResponse{ID: req.ID, OK: false, Error: &RPCError{Code: string(apperr.CodeError), Message: marshalErr.Error()}}
	}
	return RPCResponse{ID: req.ID, OK: true, Result: raw}
}

func (d *Dispatcher) route(method string, params json.RawMessage) (any, error) {
	switch method {
	case "ccbox.getInfo":
		return d.Info, nil

	case "projects.list":
		return scanner.GroupByProject(d.Sessions.listAllSessions()), nil

	case "sessions.list":
		var p struct {
			ProjectPath string `json:"project_path"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		sessions := d.Sessions.listAllSessions()
		if p.ProjectPath != "" {
			var filtered []model.SessionSummary
			for _, s := range sessions {
				if s.Meta.Cwd == p.ProjectPath {
					filtered = append(filtered, s)
				}
			}
			sessions = filtered
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].FileModified.After(sessions[j].FileModified)
		})
		return d.enrichSessions(sessions), nil

	case "sessions.getTimeline":
		var p struct {
			SessionID string `json:"session_id"`
			Limit     int    `json:"limit"`
			Cursor    int64  `json:"cursor"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if p.SessionID == "" {
			return nil, apperr.New(apperr.CodeInvalidParams, "session_id is required")
		}
		limit := p.Limit
		if limit <= 0 {
			limit = defaultTimelineLimit
		}
		if limit > maxTimelineLimit {
			limit = maxTimelineLimit
		}
		result, meta, nextCursor, err := d.Sessions.GetTimeline(p.SessionID, limit, p.Cursor)
		if err != nil {
			return nil, err
		}
		return struct {
			Meta       model.SessionMeta    `json:"meta"`
			Items      []model.TimelineItem `json:"items"`
			NextCursor int64                `json:"next_cursor"`
			Warnings   int                  `json:"warnings"`
			Truncated  bool                 `json:"truncated"`
		}{meta, result.Items, nextCursor, result.Warnings, result.Truncated}, nil

	case "sessions.subscribeTimeline":
		var p struct {
			SessionID  string `json:"session_id"`
			FromCursor *int64 `json:"from_cursor"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if p.SessionID == "" {
			return nil, apperr.New(apperr.CodeInvalidParams, "session_id is required")
		}
		fileSize, err := d.Sessions.logFileSize(p.SessionID)
		if err != nil {
			return nil, err
		}
		cursor := fileSize
		if p.FromCursor != nil {
			cursor = *p.FromCursor
		}
		return struct {
			SubscriptionID string `json:"subscription_id"`
			Cursor         int64  `json:"cursor"`
		}{uuid.Must(uuid.NewV7()).String(), cursor}, nil

	case "tasks.list":
		var p struct {
			ProjectPath string `json:"project_path"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if d.Tasks == nil {
			return nil, apperr.New(apperr.CodeUnsupportedCapability, "tasks store not configured")
		}
		return d.Tasks.List(p.ProjectPath)

	case "tasks.get":
		var p struct {
			ID string `json:"id"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if d.Tasks == nil {
			return nil, apperr.New(apperr.CodeUnsupportedCapability, "tasks store not configured")
		}
		return d.Tasks.Get(p.ID)

	case "tasks.create":
		var p struct {
			ProjectPath string   `json:"project_path"`
			Body        string   `json:"body"`
			ImagePaths  []string `json:"image_paths"`
			NowMs       int64    `json:"now_ms"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if d.Tasks == nil {
			return nil, apperr.New(apperr.CodeUnsupportedCapability, "tasks store not configured")
		}
		if p.Body == "" {
			return nil, apperr.New(apperr.CodeInvalidParams, "body is required")
		}
		return d.Tasks.Create(p.ProjectPath, p.Body, p.ImagePaths, p.NowMs)

	case "tasks.delete":
		var p struct {
			ID string `json:"id"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if d.Tasks == nil {
			return nil, apperr.New(apperr.CodeUnsupportedCapability, "tasks store not configured")
		}
		return nil, d.Tasks.Delete(p.ID)

	case "tasks.spawn":
		var p struct {
			TaskID string              `json:"task_id"`
			Engine model.SessionEngine `json:"engine"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if d.Tasks == nil {
			return nil, apperr.New(apperr.CodeUnsupportedCapability, "tasks store not configured")
		}
		if d.Supervisor == nil {
			return nil, apperr.New(apperr.CodeUnsupportedCapability, "supervisor not configured")
		}
		if p.TaskID == "" {
			return nil, apperr.New(apperr.CodeInvalidParams, "task_id is required")
		}
		task, err := d.Tasks.Get(p.TaskID)
		if err != nil {
			return nil, err
		}
		rec, err := d.Supervisor.Spawn(supervisor.SpawnOptions{
			Engine:      p.Engine,
			ProjectPath: task.ProjectPath,
			Prompt:      task.Body,
		})
		if err != nil {
			return nil, err
		}
		return struct {
			ProcessID string `json:"process_id"`
		}{rec.ID}, nil

	case "processes.list":
		if d.Supervisor == nil {
			return nil, apperr.New(apperr.CodeUnsupportedCapability, "supervisor not configured")
		}
		return d.Supervisor.List(), nil

	case "processes.kill":
		var p struct {
			ID string `json:"id"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if d.Supervisor == nil {
			return nil, apperr.New(apperr.CodeUnsupportedCapability, "supervisor not configured")
		}
		if err := d.Supervisor.Kill(p.ID); err != nil {
			return nil, err
		}
		return struct {
			Killed bool `json:"killed"`
		}{true}, nil

	case "processes.subscribeLogs":
		var p struct {
			ProcessID  string `json:"process_id"`
			Stream     string `json:"stream"`
			FromOffset *int64 `json:"from_offset"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if p.ProcessID == "" || p.Stream == "" {
			return nil, apperr.New(apperr.CodeInvalidParams, "process_id and stream are required")
		}
		if d.Supervisor == nil {
			return nil, apperr.New(apperr.CodeUnsupportedCapability, "supervisor not configured")
		}
		if _, err := d.Supervisor.Get(p.ProcessID); err != nil {
			return nil, err
		}
		offset := int64(0)
		if p.FromOffset != nil {
			offset = *p.FromOffset
		}
		return struct {
			SubscriptionID string `json:"subscription_id"`
			Offset         int64  `json:"offset"`
		}{uuid.Must(uuid.NewV7()).String(), offset}, nil

	case "agents.spawn":
		var p supervisor.SpawnOptions
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if d.Supervisor == nil {
			return nil, apperr.New(apperr.CodeUnsupportedCapability, "supervisor not configured")
		}
		if p.ProjectPath == "" {
			return nil, apperr.New(apperr.CodeInvalidParams, "project_path is required")
		}
		return d.Supervisor.Spawn(p)

	default:
		return nil, apperr.New(apperr.CodeUnsupportedCapability, "unknown method: "+method)
	}
}

func unmarshalParams(params json.RawMessage, dst any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return apperr.New(apperr.CodeInvalidParams, err.Error())
	}
	return nil
}
