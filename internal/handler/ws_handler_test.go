package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hamnet/relay-service/internal/config"
	"github.com/hamnet/relay-service/internal/domain"
	"github.com/hamnet/relay-service/internal/hub"
	"github.com/hamnet/relay-service/internal/service"
)

// mockStore implements store.Store in memory for handler tests.
type mockStore struct {
	mu        sync.Mutex
	fail      bool
	presence  map[string]domain.StationPresence
	refreshes int
	messages  []domain.Message
	contacts  []domain.Contact
}

func newMockStore() *mockStore {
	return &mockStore{presence: make(map[string]domain.StationPresence)}
}

var errMockStore = errors.New("store unavailable")

func (m *mockStore) UpsertStationPresence(ctx context.Context, callsign, channel string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errMockStore
	}
	m.presence[callsign] = domain.StationPresence{Callsign: callsign, Channel: channel, LastSeen: ts}
	return nil
}

func (m *mockStore) RefreshStationLastSeen(ctx context.Context, callsign string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errMockStore
	}
	m.refreshes++
	if rec, ok := m.presence[callsign]; ok {
		rec.LastSeen = ts
		m.presence[callsign] = rec
	}
	return nil
}

func (m *mockStore) QueryOnlineStations(ctx context.Context, channel string, ttl time.Duration) ([]domain.StationPresence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errMockStore
	}
	var out []domain.StationPresence
	cutoff := time.Now().Add(-ttl)
	for _, rec := range m.presence {
		if rec.Channel == channel && rec.LastSeen.After(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockStore) GetStationPresence(ctx context.Context, callsign string) (*domain.StationPresence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errMockStore
	}
	if rec, ok := m.presence[callsign]; ok {
		out := rec
		return &out, nil
	}
	return nil, nil
}

func (m *mockStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errMockStore
	}
	msg.ID = uint64(len(m.messages) + 1)
	msg.CreatedAt = time.Now().UTC()
	if msg.Type == "" {
		msg.Type = domain.DefaultMessageType
	}
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *mockStore) QueryRecentMessages(ctx context.Context, channel string, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errMockStore
	}
	var out []domain.Message
	for _, msg := range m.messages {
		if msg.Channel == channel {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *mockStore) UpsertContact(ctx context.Context, contact *domain.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errMockStore
	}
	m.contacts = append(m.contacts, *contact)
	return nil
}

func (m *mockStore) presenceFor(callsign string) (domain.StationPresence, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.presence[callsign]
	return rec, ok
}

func (m *mockStore) presenceWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.presence)
}

// testStack wires the full relay: hub, service with mock store, handlers.
type testStack struct {
	server *httptest.Server
	hub    *hub.Hub
	store  *mockStore
}

func newTestStack(t *testing.T, pingInterval time.Duration) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.WebSocketConfig{
		PingInterval:   pingInterval,
		PongWait:       10 * pingInterval,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
	}

	st := newMockStore()
	h := hub.NewHub(cfg)
	go h.Run()

	svc := service.NewRelayService(h, st, nil, 90*time.Second, 30*time.Second)

	r := gin.New()
	NewWSHandler(h, svc).RegisterRoutes(r)
	NewHTTPHandler(svc).RegisterRoutes(r)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &testStack{server: server, hub: h, store: st}
}

func (ts *testStack) dial(t *testing.T, callsign, channel string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.server.URL, "http") +
		fmt.Sprintf("/relay/ws?callsign=%s&channel=%s", callsign, channel)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var event map[string]interface{}
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("failed to parse event %q: %v", data, err)
	}
	return event
}

func expectKind(t *testing.T, conn *websocket.Conn, kind string) map[string]interface{} {
	t.Helper()
	event := readEvent(t, conn)
	if event["kind"] != kind {
		t.Fatalf("expected kind %q, got %v", kind, event)
	}
	return event
}

func expectSilence(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(wait))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %s", data)
	}
	if !strings.Contains(err.Error(), "timeout") && !strings.Contains(err.Error(), "deadline") {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func TestJoinReceivesHello(t *testing.T) {
	ts := newTestStack(t, time.Second)

	conn := ts.dial(t, "k1abc", "7.050")

	hello := expectKind(t, conn, domain.KindHello)
	if hello["callsign"] != "K1ABC" {
		t.Fatalf("expected normalized callsign K1ABC, got %v", hello["callsign"])
	}
	if hello["channel"] != "7.050" {
		t.Fatalf("expected channel 7.050, got %v", hello["channel"])
	}

	rec, ok := ts.store.presenceFor("K1ABC")
	if !ok {
		t.Fatal("presence record was not written on join")
	}
	if rec.Channel != "7.050" {
		t.Fatalf("presence channel = %q, want 7.050", rec.Channel)
	}
}

func TestRejectMissingCallsign(t *testing.T) {
	ts := newTestStack(t, time.Second)

	wsURL := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/relay/ws?channel=7.050"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected connection to be closed")
	}
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}

	if got := ts.store.presenceWrites(); got != 0 {
		t.Fatalf("rejected handshake wrote %d presence records", got)
	}
	if got := ts.hub.MemberCount("7.050"); got != 0 {
		t.Fatalf("rejected handshake joined a room: %d members", got)
	}
}

func TestPingPongDirectReply(t *testing.T) {
	ts := newTestStack(t, time.Second)

	a := ts.dial(t, "K1ABC", "7.050")
	expectKind(t, a, domain.KindHello)

	b := ts.dial(t, "W2XYZ", "7.050")
	expectKind(t, b, domain.KindHello)
	expectKind(t, a, domain.KindPresence) // B's join announcement

	if err := a.WriteJSON(map[string]string{"kind": "ping"}); err != nil {
		t.Fatalf("write ping failed: %v", err)
	}

	expectKind(t, a, domain.KindPong)
	expectSilence(t, b, 150*time.Millisecond)
}

func TestRestMessageFanout(t *testing.T) {
	ts := newTestStack(t, time.Second)

	a := ts.dial(t, "K1ABC", "7.050")
	expectKind(t, a, domain.KindHello)
	b := ts.dial(t, "W2XYZ", "7.050")
	expectKind(t, b, domain.KindHello)
	expectKind(t, a, domain.KindPresence)
	c := ts.dial(t, "N3DEF", "14.070")
	expectKind(t, c, domain.KindHello)

	body := `{"callsign":"k9qrp","payload":{"text":"CQ CQ CQ"}}`
	resp, err := http.Post(ts.server.URL+"/api/v1/channels/7.050/messages", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		event := expectKind(t, conn, domain.KindMessage)
		msg, ok := event["message"].(map[string]interface{})
		if !ok {
			t.Fatalf("message event without body: %v", event)
		}
		if msg["callsign"] != "K9QRP" {
			t.Fatalf("expected sender K9QRP, got %v", msg["callsign"])
		}
		if msg["id"] == nil || msg["id"].(float64) < 1 {
			t.Fatalf("message event without assigned id: %v", msg)
		}
		payload, _ := msg["payload"].(map[string]interface{})
		if payload["text"] != "CQ CQ CQ" {
			t.Fatalf("payload mismatch: %v", payload)
		}
	}

	expectSilence(t, c, 150*time.Millisecond)
}

func TestRelayVerbatimExcludesSender(t *testing.T) {
	ts := newTestStack(t, time.Second)

	a := ts.dial(t, "K1ABC", "7.050")
	expectKind(t, a, domain.KindHello)
	b := ts.dial(t, "W2XYZ", "7.050")
	expectKind(t, b, domain.KindHello)
	expectKind(t, a, domain.KindPresence)

	frame := `{"kind":"offer","data":{"sdp":"v=0","seq":7}}`
	if err := a.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write relay frame failed: %v", err)
	}

	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := b.ReadMessage()
	if err != nil {
		t.Fatalf("read relay frame failed: %v", err)
	}
	if string(data) != frame {
		t.Fatalf("relay frame was not verbatim: got %s, want %s", data, frame)
	}

	expectSilence(t, a, 150*time.Millisecond)
}

func TestMalformedFrameDroppedSilently(t *testing.T) {
	ts := newTestStack(t, time.Second)

	a := ts.dial(t, "K1ABC", "7.050")
	expectKind(t, a, domain.KindHello)

	if err := a.WriteMessage(websocket.TextMessage, []byte("not json {{{")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// The connection survives and still answers pings.
	if err := a.WriteJSON(map[string]string{"kind": "ping"}); err != nil {
		t.Fatalf("write ping failed: %v", err)
	}
	expectKind(t, a, domain.KindPong)
}

func TestStoreFailureKeepsConnectionOpen(t *testing.T) {
	ts := newTestStack(t, time.Second)
	ts.store.fail = true

	a := ts.dial(t, "K1ABC", "7.050")
	expectKind(t, a, domain.KindHello)

	if err := a.WriteJSON(map[string]string{"kind": "ping"}); err != nil {
		t.Fatalf("write ping failed: %v", err)
	}
	expectKind(t, a, domain.KindPong)

	if got := ts.hub.MemberCount("7.050"); got != 1 {
		t.Fatalf("connection should remain joined despite store failure, members=%d", got)
	}
}

func TestHeartbeatReapsDeadPeer(t *testing.T) {
	ts := newTestStack(t, 50*time.Millisecond)

	// Dial and never read: the peer processes no pings, so it never pongs.
	wsURL := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/relay/ws?callsign=K1ABC&channel=7.050"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Wait for the join to land, then for the supervisor to reap.
	deadline := time.Now().Add(3 * time.Second)
	joined := false
	for time.Now().Before(deadline) {
		count := ts.hub.MemberCount("7.050")
		if count == 1 {
			joined = true
		}
		if joined && count == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dead peer was not reaped; members=%d", ts.hub.MemberCount("7.050"))
}

func TestDisconnectCleansMembership(t *testing.T) {
	ts := newTestStack(t, time.Second)

	a := ts.dial(t, "K1ABC", "7.050")
	expectKind(t, a, domain.KindHello)
	if got := ts.hub.MemberCount("7.050"); got != 1 {
		t.Fatalf("expected 1 member, got %d", got)
	}

	a.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ts.hub.MemberCount("7.050") == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("membership not cleaned after disconnect")
}

func TestOnlineStationsEndpoint(t *testing.T) {
	ts := newTestStack(t, time.Second)

	a := ts.dial(t, "K1ABC", "7.050")
	expectKind(t, a, domain.KindHello)

	resp, err := http.Get(ts.server.URL + "/api/v1/channels/7.050/stations")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var envelope struct {
		Success bool `json:"success"`
		Data    []struct {
			Callsign string `json:"callsign"`
			Channel  string `json:"channel"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !envelope.Success || len(envelope.Data) != 1 {
		t.Fatalf("expected 1 online station, got %+v", envelope)
	}
	if envelope.Data[0].Callsign != "K1ABC" || envelope.Data[0].Channel != "7.050" {
		t.Fatalf("unexpected station: %+v", envelope.Data[0])
	}
}

func TestSaveContactEndpoint(t *testing.T) {
	ts := newTestStack(t, time.Second)

	body := `{"owner_callsign":"k1abc","callsign":"w2xyz","name":"Alex","location":"FN31"}`
	req, err := http.NewRequest(http.MethodPut, ts.server.URL+"/api/v1/contacts", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	ts.store.mu.Lock()
	defer ts.store.mu.Unlock()
	if len(ts.store.contacts) != 1 {
		t.Fatalf("expected 1 stored contact, got %d", len(ts.store.contacts))
	}

	// Missing required fields are rejected before reaching the store.
	resp2, err := http.DefaultClient.Do(func() *http.Request {
		r, _ := http.NewRequest(http.MethodPut, ts.server.URL+"/api/v1/contacts", bytes.NewBufferString(`{"name":"Alex"}`))
		r.Header.Set("Content-Type", "application/json")
		return r
	}())
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing callsigns, got %d", resp2.StatusCode)
	}
}
