package recorder

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestBroadcaster_StreamsRecords(t *testing.T) {
	b := NewBroadcaster(nil)
	srv := httptest.NewServer(b)
	defer srv.Close()
	defer b.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for b.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.Clients() != 1 {
		t.Fatalf("Clients() = %v, want 1", b.Clients())
	}

	if err := b.MakeRecord(context.Background(), 5, completed(5)); err != nil {
		t.Fatalf("MakeRecord() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var cdr CDR
	if err := json.Unmarshal(data, &cdr); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if cdr.CallID != 5 {
		t.Errorf("CallID = %v, want 5", cdr.CallID)
	}
}

func TestBroadcaster_ClientLeaves(t *testing.T) {
	b := NewBroadcaster(nil)
	srv := httptest.NewServer(b)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for b.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for b.Clients() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.Clients() != 0 {
		t.Errorf("Clients() = %v, want 0 after disconnect", b.Clients())
	}
}
