package remote

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/agentctl/agentctl/internal/model"
	"github.com/agentctl/agentctl/internal/supervisor"
	"github.com/agentctl/agentctl/internal/tasks"
)

func TestDispatchCcboxGetInfo(t *testing.T) {
	d := &Dispatcher{Info: Info{CcboxID: "box-1", Version: "1.0.0"}}
	resp := d.Dispatch(RPCRequest{ID: "r1", Method: "ccbox.getInfo"})
	if !resp.OK {
		t.Fatalf("Dispatch() error = %+v", resp.Error)
	}
	var info Info
	if err := json.Unmarshal(resp.Result, &info); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if info.CcboxID != "box-1" {
		t.Errorf("CcboxID = %q, want box-1", info.CcboxID)
	}
}

func TestDispatchUnknownMethodIsUnsupportedCapability(t *testing.T) {
	d := &Dispatcher{}
	resp := d.Dispatch(RPCRequest{ID: "r1", Method: "bogus.method"})
	if resp.OK {
		t.Fatal("expected failure for unknown method")
	}
	if resp.Error.Code != "UnsupportedCapability" {
		t.Errorf("Error.Code = %q, want UnsupportedCapability", resp.Error.Code)
	}
}

func TestDispatchTasksWithoutStoreIsUnsupportedCapability(t *testing.T) {
	d := &Dispatcher{}
	resp := d.Dispatch(RPCRequest{ID: "r1", Method: "tasks.list"})
	if resp.OK {
		t.Fatal("expected failure when tasks store is not configured")
	}
	if resp.Error.Code != "UnsupportedCapability" {
		t.Errorf("Error.Code = %q, want UnsupportedCapability", resp.Error.Code)
	}
}

func TestDispatchTasksCreateAndGet(t *testing.T) {
	db, err := tasks.Open(t.TempDir() + "/tasks.db")
	if err != nil {
		t.Fatalf("tasks.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	d := &Dispatcher{Tasks: db}

	createParams, _ := json.Marshal(map[string]any{"project_path": "/proj/a", "body": "do the thing", "now_ms": 1000})
	createResp := d.Dispatch(RPCRequest{ID: "r1", Method: "tasks.create", Params: createParams})
	if !createResp.OK {
		t.Fatalf("tasks.create error = %+v", createResp.Error)
	}
	var created tasks.Task
	if err := json.Unmarshal(createResp.Result, &created); err != nil {
		t.Fatalf("unmarshal created task: %v", err)
	}
	if created.Body != "do the thing" {
		t.Errorf("Body = %q, want %q", created.Body, "do the thing")
	}

	getParams, _ := json.Marshal(map[string]any{"id": created.ID})
	getResp := d.Dispatch(RPCRequest{ID: "r2", Method: "tasks.get", Params: getParams})
	if !getResp.OK {
		t.Fatalf("tasks.get error = %+v", getResp.Error)
	}
}

func TestDispatchTasksCreateMissingBodyIsInvalidParams(t *testing.T) {
	db, err := tasks.Open(t.TempDir() + "/tasks.db")
	if err != nil {
		t.Fatalf("tasks.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	d := &Dispatcher{Tasks: db}
	params, _ := json.Marshal(map[string]any{"project_path": "/proj/a"})
	resp := d.Dispatch(RPCRequest{ID: "r1", Method: "tasks.create", Params: params})
	if resp.OK {
		t.Fatal("expected failure for missing body")
	}
	if resp.Error.Code != "InvalidParams" {
		t.Errorf("Error.Code = %q, want InvalidParams", resp.Error.Code)
	}
}

func TestDispatchTasksSpawnWithoutSupervisorIsUnsupportedCapability(t *testing.T) {
	db, err := tasks.Open(t.TempDir() + "/tasks.db")
	if err != nil {
		t.Fatalf("tasks.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	d := &Dispatcher{Tasks: db}
	params, _ := json.Marshal(map[string]any{"task_id": "whatever", "engine": "A"})
	resp := d.Dispatch(RPCRequest{ID: "r1", Method: "tasks.spawn", Params: params})
	if resp.OK {
		t.Fatal("expected failure when supervisor is not configured")
	}
	if resp.Error.Code != "UnsupportedCapability" {
		t.Errorf("Error.Code = %q, want UnsupportedCapability", resp.Error.Code)
	}
}

func TestDispatchTasksSpawnMissingTaskIDIsInvalidParams(t *testing.T) {
	db, err := tasks.Open(t.TempDir() + "/tasks.db")
	if err != nil {
		t.Fatalf("tasks.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	d := &Dispatcher{Tasks: db, Supervisor: supervisor.New(t.TempDir(), supervisor.EngineRoots{})}
	resp := d.Dispatch(RPCRequest{ID: "r1", Method: "tasks.spawn"})
	if resp.OK {
		t.Fatal("expected failure for missing task_id")
	}
	if resp.Error.Code != "InvalidParams" {
		t.Errorf("Error.Code = %q, want InvalidParams", resp.Error.Code)
	}
}

func TestDispatchSessionsSubscribeTimelineReturnsSubscriptionID(t *testing.T) {
	root := t.TempDir()
	writeALineSession(t, root, "sess-1", []string{
		`{"type":"session_meta","payload":{"id":"sess-1","cwd":"/proj/a","timestamp":"2026-01-15T10:00:00Z"}}`,
	})

	d := &Dispatcher{Sessions: SessionSource{Roots: supervisor.EngineRoots{model.EngineA: root}}}
	params, _ := json.Marshal(map[string]any{"session_id": "sess-1"})
	resp := d.Dispatch(RPCRequest{ID: "r1", Method: "sessions.subscribeTimeline", Params: params})
	if !resp.OK {
		t.Fatalf("Dispatch() error = %+v", resp.Error)
	}
	var got struct {
		SubscriptionID string `json:"subscription_id"`
		Cursor         int64  `json:"cursor"`
	}
	if err := json.Unmarshal(resp.Result, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got.SubscriptionID == "" {
		t.Error("expected non-empty subscription_id")
	}
	if got.Cursor <= 0 {
		t.Errorf("Cursor = %d, want > 0 (defaults to current file size)", got.Cursor)
	}
}

func TestDispatchSessionsListSortedByModifiedDesc(t *testing.T) {
	root := t.TempDir()
	writeALineSession(t, root, "older", []string{
		`{"type":"session_meta","payload":{"id":"older","cwd":"/proj/a","timestamp":"2026-01-15T10:00:00Z"}}`,
	})
	time.Sleep(10 * time.Millisecond)
	writeALineSession(t, root, "newer", []string{
		`{"type":"session_meta","payload":{"id":"newer","cwd":"/proj/a","timestamp":"2026-01-15T11:00:00Z"}}`,
	})

	d := &Dispatcher{Sessions: SessionSource{Roots: supervisor.EngineRoots{model.EngineA: root}}}
	resp := d.Dispatch(RPCRequest{ID: "r1", Method: "sessions.list"})
	if !resp.OK {
		t.Fatalf("Dispatch() error = %+v", resp.Error)
	}
	var got []sessionListEntry
	if err := json.Unmarshal(resp.Result, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].Meta.ID != "newer" {
		t.Errorf("got[0].Meta.ID = %q, want newer (most recently modified first)", got[0].Meta.ID)
	}
}
