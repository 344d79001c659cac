package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"strzcam.com/camshm/frame"
	"strzcam.com/camshm/health"
)

func testServer(t *testing.T) (*Server, *frame.Ring, *httptest.Server) {
	t.Helper()
	name := fmt.Sprintf("/camshm_test_%s_%d", t.Name(), os.Getpid())
	ring, err := frame.CreateRing(name, 3)
	if err != nil {
		t.Fatalf("ring: %v", err)
	}
	t.Cleanup(func() { ring.Unlink(); ring.Close() })

	probe := health.NewProbe(health.Config{FramesName: name, RingSlots: 3})
	s := NewServer(0, probe, 50*time.Millisecond)
	ts := httptest.NewServer(s.Handler(name, 3))
	t.Cleanup(ts.Close)
	return s, ring, ts
}

func TestStatusEndpoint(t *testing.T) {
	_, ring, ts := testServer(t)
	if err := ring.Write(&frame.Frame{Number: 1, Timestamp: time.Now(), Data: []byte{1}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code %d", resp.StatusCode)
	}
	var rep health.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.State != "OK" || rep.LastFrameNumber != 1 {
		t.Fatalf("report: %+v", rep)
	}
}

func TestPreviewEndpoint(t *testing.T) {
	_, ring, ts := testServer(t)
	f := &frame.Frame{
		Number:    1,
		Timestamp: time.Now(),
		Width:     4,
		Height:    2,
		Format:    frame.FormatRGB,
		Data:      make([]byte, 4*2*3),
	}
	if err := ring.Write(f); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := http.Get(ts.URL + "/preview")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("content type %q", ct)
	}
}

func TestPreviewWithoutFrames(t *testing.T) {
	_, _, ts := testServer(t)
	resp, err := http.Get(ts.URL + "/preview")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status code %d, want 503", resp.StatusCode)
	}
}

func TestWebsocketReceivesBroadcast(t *testing.T) {
	s, ring, ts := testServer(t)
	if err := ring.Write(&frame.Frame{Number: 1, Timestamp: time.Now(), Data: []byte{1}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/status/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the subscriber registration to land, then broadcast.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.broadcast(s.probe.Check())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var rep health.Report
	if err := json.Unmarshal(payload, &rep); err != nil {
		t.Fatalf("unmarshal %q: %v", payload, err)
	}
	if rep.State != "OK" {
		t.Fatalf("broadcast state %q", rep.State)
	}
}
