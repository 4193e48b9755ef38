package feed

import (
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"icrc7-ledger/internal/domain"
)

func newTestHub(t *testing.T) (*Hub, string, func()) {
	t.Helper()
	hub := NewHub(log.New(io.Discard, "", 0))
	server := httptest.NewServer(hub)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return hub, wsURL, server.Close
}

func dialFeed(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", want, hub.Subscribers())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubBroadcastsTransactions(t *testing.T) {
	hub, wsURL, stop := newTestHub(t)
	defer stop()

	conn := dialFeed(t, wsURL)
	defer conn.Close()
	waitForSubscribers(t, hub, 1)

	from := domain.NewAccount(domain.Principal{0x0A})
	to := domain.NewAccount(domain.Principal{0x0B})
	hub.Publish(domain.TransferTransaction(1_700_000_000, 7, from, to, []byte("m")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Op != domain.OpTransfer || frame.TokenID != 7 {
		t.Fatalf("unexpected frame %+v", frame)
	}
	if frame.From != from.String() || frame.To != to.String() {
		t.Fatalf("unexpected accounts in frame %+v", frame)
	}
}

func TestHubFansOutToAllSubscribers(t *testing.T) {
	hub, wsURL, stop := newTestHub(t)
	defer stop()

	first := dialFeed(t, wsURL)
	defer first.Close()
	second := dialFeed(t, wsURL)
	defer second.Close()
	waitForSubscribers(t, hub, 2)

	holder := domain.NewAccount(domain.Principal{0x0A})
	hub.Publish(domain.MintTransaction(1_700_000_000, 3, domain.Principal{0x31}, holder))

	for i, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("subscriber %d read: %v", i, err)
		}
		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			t.Fatalf("subscriber %d unmarshal: %v", i, err)
		}
		if frame.Op != domain.OpMint || frame.TokenID != 3 {
			t.Fatalf("subscriber %d unexpected frame %+v", i, frame)
		}
	}
}

func TestHubRemovesDisconnectedSubscriber(t *testing.T) {
	hub, wsURL, stop := newTestHub(t)
	defer stop()

	conn := dialFeed(t, wsURL)
	waitForSubscribers(t, hub, 1)

	conn.Close()
	waitForSubscribers(t, hub, 0)

	// Publishing with no subscribers is a no-op.
	hub.Publish(domain.BurnTransaction(1_700_000_000, 1, domain.NewAccount(domain.Principal{0x0A})))
}
