package remote

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/agentctl/agentctl/internal/model"
)

// subscriptionPumpInterval is how often a connection's active
// subscriptions are polled and pushed as events (spec §4.9).
const subscriptionPumpInterval = 250 * time.Millisecond

// Server accepts the single duplex websocket connection carrying the
// remote control plane protocol: outer envelopes, the Ed25519 handshake,
// mux/frame-wrapped control traffic, and the RPC method table.
type Server struct {
	Identity     model.AuthIdentity
	Pairing      *PairingStore
	Dispatcher   *Dispatcher
	DeviceKind   string // "ccbox", this endpoint's own kind in the handshake

	upgrader websocket.Upgrader
	mux      *http.ServeMux
	httpSrv  *http.Server

	mu      sync.RWMutex
	clients map[string]*connection
}

// NewServer builds a Server ready to have its mux mounted or Start called.
func NewServer(identity model.AuthIdentity, pairing *PairingStore, dispatcher *Dispatcher) *Server {
	s := &Server{
		Identity:   identity,
		Pairing:    pairing,
		Dispatcher: dispatcher,
		DeviceKind: "ccbox",
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return isAllowedClientOrigin(r.Header.Get("Origin")) },
		},
		mux:        http.NewServeMux(),
		clients:    make(map[string]*connection),
	}
	s.mux.HandleFunc("/remote", s.handleWebSocket)
	return s
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("remote control plane listening on %s", addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("remote: websocket upgrade failed: %v", err)
		return
	}

	c := newConnection(conn, s)
	c.run(r.Context())
}

func (s *Server) registerClient(deviceID string, c *connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[deviceID] = c
}

func (s *Server) unregisterClient(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, deviceID)
}

// connection is one authenticated client's half of the duplex socket.
type connection struct {
	ws       *websocket.Conn
	server   *Server
	writeMu  sync.Mutex
	deviceID string

	subsMu sync.Mutex
	subs   map[string]*subscription
}

// subscription is one active sessions.subscribeTimeline or
// processes.subscribeLogs tracked by a connection's pump loop.
type subscription struct {
	kind      string // "timeline" or "logs"
	sessionID string
	processID string
	stream    string
	offset    int64
}

func newConnection(ws *websocket.Conn, s *Server) *connection {
	return &connection{ws: ws, server: s, subs: make(map[string]*subscription)}
}

func (c *connection) run(ctx context.Context) {
	defer c.ws.Close()

	deviceID, deviceKind, err := c.handshake()
	if err != nil {
		log.Printf("remote: handshake failed: %v", err)
		return
	}
	c.deviceID = deviceID
	c.server.registerClient(deviceID, c)
	defer c.server.unregisterClient(deviceID)

	if err := c.writeEnvelope(TypeRegister, c.server.Dispatcher.Info); err != nil {
		return
	}

	pumpCtx, cancelPump := context.WithCancel(ctx)
	defer cancelPump()
	go c.pumpSubscriptions(pumpCtx)

	log.Printf("remote: device %s (%s) connected", deviceID, deviceKind)

	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			log.Printf("remote: device %s disconnected: %v", deviceID, err)
			return
		}
		c.handleEnvelope(env)
	}
}

// handshake drives the four-step Ed25519 auth exchange (spec §4.9 step
// 3): auth/hello -> auth/challenge -> auth/response -> auth/ok|auth/err.
// Auth failures are terminal for the connection.
func (c *connection) handshake() (deviceID, deviceKind string, err error) {
	var helloEnv Envelope
	if err := c.ws.ReadJSON(&helloEnv); err != nil {
		return "", "", err
	}
	if helloEnv.Type != TypeAuthHello {
		c.writeAuthErr(apperr.CodeInvalidParams)
		return "", "", errors.New("expected auth/hello")
	}
	var hello AuthHello
	if err := json.Unmarshal(helloEnv.Payload, &hello); err != nil {
		c.writeAuthErr(apperr.CodeInvalidParams)
		return "", "", err
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", "", err
	}
	if err := c.writeEnvelope(TypeAuthChallenge, AuthChallenge{NonceB64: base64Encode(nonce)}); err != nil {
		return "", "", err
	}

	var respEnv Envelope
	if err := c.ws.ReadJSON(&respEnv); err != nil {
		return "", "", err
	}
	if respEnv.Type != TypeAuthResponse {
		c.writeAuthErr(apperr.CodeInvalidParams)
		return "", "", errors.New("expected auth/response")
	}
	var resp AuthResponse
	if err := json.Unmarshal(respEnv.Payload, &resp); err != nil {
		c.writeAuthErr(apperr.CodeInvalidParams)
		return "", "", err
	}

	sig, err := base64Decode(resp.SignatureB64)
	if err != nil {
		c.writeAuthErr(apperr.CodeBase64)
		return "", "", err
	}
	pub, err := base64Decode(resp.PublicKeyB64)
	if err != nil || len(pub) == 0 {
		// no out-of-band public key carried: verify against our own
		// persisted identity (the common case for a ccbox-initiated dial).
		pub = c.server.Identity.PublicKey[:]
	} else if !c.server.Pairing.IsTrusted(resp.PublicKeyB64) {
		// a client-supplied key with no prior trust must redeem a
		// pairing code before its signature is even considered,
		// closing off self-minted keys as a way to skip pairing.
		if resp.PairingGUID == "" || resp.PairingCode == "" {
			c.writeAuthErr(apperr.CodeAuthFailed)
			return "", "", errors.New("pairing code required for new device")
		}
		if err := c.server.Pairing.Consume(resp.PairingGUID, resp.PairingCode); err != nil {
			appErr := apperr.AsAppError(err)
			c.writeAuthErr(appErr.Code)
			return "", "", err
		}
		if err := c.server.Pairing.Trust(resp.PublicKeyB64); err != nil {
			log.Printf("remote: recording trusted device: %v", err)
		}
	}

	if !VerifyAuthSignature(pub, hello.DeviceKind, hello.DeviceID, nonce, sig) {
		c.writeAuthErr(apperr.CodeAuthFailed)
		return "", "", errors.New("signature verification failed")
	}

	if err := c.writeEnvelope(TypeAuthOK, struct{}{}); err != nil {
		return "", "", err
	}
	return hello.DeviceID, hello.DeviceKind, nil
}

func (c *connection) writeAuthErr(code apperr.Code) {
	_ = c.writeEnvelope(TypeAuthErr, AuthErr{Code: string(code)})
}

func (c *connection) writeEnvelope(typ string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := Envelope{V: ProtocolVersion, Type: typ, Ts: time.Now().UTC().Format(time.RFC3339), Payload: raw}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(env)
}

// handleEnvelope dispatches one post-handshake envelope. Only
// mux/frame is recognized at the outer layer; anything else is
// silently dropped (spec §6.4's "unknown stream_ids are dropped"
// generalizes to unknown envelope types here too).
func (c *connection) handleEnvelope(env Envelope) {
	if env.Type != TypeMuxFrame {
		return
	}
	var frame MuxFrame
	if err := json.Unmarshal(env.Payload, &frame); err != nil {
		return
	}
	if frame.StreamID != ControlStreamID {
		return
	}
	inner, err := base64Decode(frame.PayloadB64)
	if err != nil {
		return
	}
	var innerEnv Envelope
	if err := json.Unmarshal(inner, &innerEnv); err != nil {
		return
	}

	switch innerEnv.Type {
	case "rpc/request":
		var req RPCRequest
		if err := json.Unmarshal(innerEnv.Payload, &req); err != nil {
			return
		}
		c.handleRPCRequest(frame.SessionID, req)
	}
}

func (c *connection) handleRPCRequest(sessionID string, req RPCRequest) {
	resp := c.server.Dispatcher.Dispatch(req)
	if resp.OK {
		c.trackSubscription(req, resp)
	}
	c.sendControl(sessionID, "rpc/response", resp)
}

// trackSubscription registers the long-lived subscriptions minted by a
// successful sessions.subscribeTimeline or processes.subscribeLogs call,
// keyed by the subscription_id the dispatcher just returned (not the
// request id), seeded at the cursor/offset the client was told about.
// Everything else is a one-shot RPC and is never tracked.
func (c *connection) trackSubscription(req RPCRequest, resp RPCResponse) {
	switch req.Method {
	case "sessions.subscribeTimeline":
		var p struct {
			SessionID string `json:"session_id"`
		}
		_ = json.Unmarshal(req.Params, &p)
		var r struct {
			SubscriptionID string `json:"subscription_id"`
			Cursor         int64  `json:"cursor"`
		}
		if err := json.Unmarshal(resp.Result, &r); err != nil || r.SubscriptionID == "" {
			return
		}
		c.subsMu.Lock()
		c.subs[r.SubscriptionID] = &subscription{kind: "timeline", sessionID: p.SessionID, offset: r.Cursor}
		c.subsMu.Unlock()

	case "processes.subscribeLogs":
		var p struct {
			ProcessID string `json:"process_id"`
			Stream    string `json:"stream"`
		}
		_ = json.Unmarshal(req.Params, &p)
		var r struct {
			SubscriptionID string `json:"subscription_id"`
			Offset         int64  `json:"offset"`
		}
		if err := json.Unmarshal(resp.Result, &r); err != nil || r.SubscriptionID == "" {
			return
		}
		c.subsMu.Lock()
		c.subs[r.SubscriptionID] = &subscription{kind: "logs", processID: p.ProcessID, stream: p.Stream, offset: r.Offset}
		c.subsMu.Unlock()
	}
}

func (c *connection) sendControl(sessionID, typ string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	inner := Envelope{V: ProtocolVersion, Type: typ, Ts: time.Now().UTC().Format(time.RFC3339), Payload: raw}
	innerBytes, err := json.Marshal(inner)
	if err != nil {
		return
	}
	frame := MuxFrame{SessionID: sessionID, StreamID: ControlStreamID, PayloadB64: base64Encode(innerBytes)}
	_ = c.writeEnvelope(TypeMuxFrame, frame)
}

// pumpSubscriptions polls every active subscription roughly every
// 250ms and pushes deltas as control-stream events.
func (c *connection) pumpSubscriptions(ctx context.Context) {
	ticker := time.NewTicker(subscriptionPumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *connection) tick() {
	c.subsMu.Lock()
	snapshot := make(map[string]subscription, len(c.subs))
	for id, sub := range c.subs {
		snapshot[id] = *sub
	}
	c.subsMu.Unlock()

	for id, sub := range snapshot {
		switch sub.kind {
		case "logs":
			c.pumpLogSubscription(id, sub)
		case "timeline":
			c.pumpTimelineSubscription(id, sub)
		}
	}
}

func (c *connection) pumpLogSubscription(id string, sub subscription) {
	if c.server.Dispatcher.Supervisor == nil {
		return
	}
	data, newOffset, err := c.server.Dispatcher.Supervisor.ReadLog(sub.processID, sub.stream, sub.offset)
	if err != nil || len(data) == 0 {
		return
	}
	c.subsMu.Lock()
	if s, ok := c.subs[id]; ok {
		s.offset = newOffset
	}
	c.subsMu.Unlock()

	c.sendControl("", "event", Event{
		Topic: "processes.logs",
		Data:  mustJSON(struct {
			ID   string `json:"id"`
			Data string `json:"data_b64"`
		}{sub.processID, base64Encode(data)}),
	})
}

// timelineSubscriptionLimit bounds how many of the most recent items a
// subscription push carries, matching the original's fixed 200-item
// subscription limit (distinct from sessions.getTimeline's client-chosen
// limit).
const timelineSubscriptionLimit = 200

func (c *connection) pumpTimelineSubscription(id string, sub subscription) {
	result, _, nextCursor, err := c.server.Dispatcher.Sessions.GetTimeline(sub.sessionID, timelineSubscriptionLimit, sub.offset)
	if err != nil || nextCursor <= sub.offset {
		return
	}
	c.subsMu.Lock()
	if s, ok := c.subs[id]; ok {
		s.offset = nextCursor
	}
	c.subsMu.Unlock()

	c.sendControl("", "event", Event{
		Topic: "sessions.timeline",
		Data: mustJSON(struct {
			SessionID string               `json:"session_id"`
			Cursor    int64                `json:"cursor"`
			Items     []model.TimelineItem `json:"items"`
		}{sub.sessionID, nextCursor, result.Items}),
	})
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}
