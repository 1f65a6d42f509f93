package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, serverURL string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketJobProgress(t *testing.T) {
	s, ts := newTestServer(t, Config{})

	conn, _, err := dialWS(t, ts.URL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	waitForClients(t, s.hub, 1)

	resp, env := do(t, http.MethodPost, ts.URL+"/jobs", genesis)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /jobs = %d %+v", resp.StatusCode, env.Error)
	}
	id := decodeData[Job](t, env).ID

	chapters := map[float64]bool{}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg ProgressMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if msg.Job != id {
			t.Fatalf("message for job %q, want %q", msg.Job, id)
		}
		if msg.Type == "progress" {
			if n, ok := msg.Data["chapter"].(float64); ok {
				chapters[n] = true
			}
			continue
		}
		if msg.Type != "complete" || msg.Progress != 100 || msg.Data["digest"] == "" {
			t.Errorf("final message = %+v", msg)
		}
		break
	}

	if !chapters[1] || !chapters[2] {
		t.Errorf("progress reported chapters %v, want 1 and 2", chapters)
	}
}

func TestWebSocketOrigin(t *testing.T) {
	s, ts := newTestServer(t, Config{AllowedOrigins: []string{"*.example.org"}})

	_, resp, err := dialWS(t, ts.URL, http.Header{"Origin": {"https://evil.test"}})
	if err == nil {
		t.Fatal("Dial() from a foreign origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("rejected handshake response = %+v", resp)
	}

	if _, _, err := dialWS(t, ts.URL, http.Header{"Origin": {"https://app.example.org"}}); err != nil {
		t.Fatalf("Dial() from an allowed origin error = %v", err)
	}
	waitForClients(t, s.hub, 1)
}

func TestHubUnregistersClosedClients(t *testing.T) {
	s, ts := newTestServer(t, Config{})

	conn, _, err := dialWS(t, ts.URL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	waitForClients(t, s.hub, 1)

	conn.Close()
	waitForClients(t, s.hub, 0)
}
