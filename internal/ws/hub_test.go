package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	wsHub "github.com/labwatch/labwatch/internal/ws"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

func staticSnapshots(ids ...string) func() []telemetry.HealthSnapshot {
	return func() []telemetry.HealthSnapshot {
		out := make([]telemetry.HealthSnapshot, 0, len(ids))
		for _, id := range ids {
			out = append(out, telemetry.HealthSnapshot{
				DeviceID: id,
				Score:    95,
				State:    "healthy",
			})
		}
		return out
	}
}

// startHub starts a test HTTP server with the hub as its handler.
// The hub's Run loop is started with a cancellable context.
func startHub(t *testing.T, snapshots func() []telemetry.HealthSnapshot) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(snapshots, testInterval)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads one text message from conn with a short deadline.
func readMessage(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return msg
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesImmediateHealth(t *testing.T) {
	wsURL, _, _ := startHub(t, staticSnapshots("scope1", "system"))

	conn := dial(t, wsURL)
	msg := readMessage(t, conn)

	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["event"] != "health" {
		t.Errorf("event: got %v, want health", m["event"])
	}
	data, ok := m["data"].([]interface{})
	if !ok {
		t.Fatal("data: missing or wrong type")
	}
	if len(data) != 2 {
		t.Errorf("snapshots: got %d, want 2", len(data))
	}
}

func TestHub_AnnounceDeliversInsight(t *testing.T) {
	wsURL, hub, _ := startHub(t, staticSnapshots())

	conn := dial(t, wsURL)
	readMessage(t, conn) // consume the connect-time health message
	time.Sleep(10 * time.Millisecond)

	hub.Announce(telemetry.Insight{
		DeviceID: "scope1",
		Kind:     telemetry.KindAnomaly,
		Severity: 0.9,
		Summary:  "voltage isolated from recent behavior",
	})

	// Ticks interleave with the announce; scan for the insight event.
	for i := 0; i < 10; i++ {
		var m map[string]interface{}
		if err := json.Unmarshal(readMessage(t, conn), &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if m["event"] != "insight" {
			continue
		}
		data := m["data"].(map[string]interface{})
		if data["device_id"] != "scope1" {
			t.Errorf("device_id: got %v, want scope1", data["device_id"])
		}
		return
	}
	t.Fatal("insight event never delivered")
}

func TestHub_CountClients(t *testing.T) {
	wsURL, hub, _ := startHub(t, staticSnapshots())

	for i := 0; i < 3; i++ {
		conn := dial(t, wsURL)
		readMessage(t, conn) // consume initial message
	}

	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 3 {
		t.Errorf("Count: got %d, want 3", n)
	}
}

func TestHub_CountDecreasesOnDisconnect(t *testing.T) {
	wsURL, hub, _ := startHub(t, staticSnapshots())

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	if n := hub.Count(); n != 1 {
		t.Errorf("Count before disconnect: got %d, want 1", n)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond) // let readPump detect the close

	if n := hub.Count(); n != 0 {
		t.Errorf("Count after disconnect: got %d, want 0", n)
	}
}

func TestHub_ReceivesBroadcastOnTick(t *testing.T) {
	wsURL, _, _ := startHub(t, staticSnapshots("scope1"))

	conn := dial(t, wsURL)
	readMessage(t, conn) // connect-time message

	msg := readMessage(t, conn) // first tick
	var m map[string]interface{}
	json.Unmarshal(msg, &m) //nolint:errcheck
	if m["event"] != "health" {
		t.Errorf("tick event: got %v, want health", m["event"])
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, staticSnapshots())

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	cancel() // signal shutdown

	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after cancel: got %d, want 0", n)
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(staticSnapshots(), testInterval)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
