package uihub_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrWong99/livecall/internal/uihub"
)

func newHubServer(t *testing.T, opts ...uihub.Option) (*uihub.Hub, string) {
	t.Helper()
	h := uihub.New(opts...)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		_ = h.Close()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) uihub.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m uihub.Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func waitClients(t *testing.T, h *uihub.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSnapshotOnConnect(t *testing.T) {
	t.Parallel()

	h, url := newHubServer(t)
	h.PublishState("open")
	h.PublishPlaying(true)

	conn := dial(t, url)
	if m := read(t, conn); m.Type != uihub.TypeState || m.State != "open" {
		t.Errorf("first message = %+v, want state open", m)
	}
	if m := read(t, conn); m.Type != uihub.TypePlaying || m.Playing == nil || !*m.Playing {
		t.Errorf("second message = %+v, want playing true", m)
	}
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	t.Parallel()

	h, url := newHubServer(t)
	a, b := dial(t, url), dial(t, url)
	waitClients(t, h, 2)

	h.OpenImageSurface("a red bicycle")
	h.PublishVolume(42)

	for _, conn := range []*websocket.Conn{a, b} {
		read(t, conn) // state snapshot
		read(t, conn) // playing snapshot
		if m := read(t, conn); m.Type != uihub.TypeImageSurface || m.Prompt != "a red bicycle" {
			t.Errorf("image message = %+v", m)
		}
		if m := read(t, conn); m.Type != uihub.TypeVolume || m.Volume == nil || *m.Volume != 42 {
			t.Errorf("volume message = %+v", m)
		}
	}
}

func TestCommandsReachHandler(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		cmds []uihub.Message
	)
	got := make(chan struct{}, 2)
	_, url := newHubServer(t, uihub.WithCommandHandler(func(_ context.Context, cmd uihub.Message) {
		mu.Lock()
		cmds = append(cmds, cmd)
		mu.Unlock()
		got <- struct{}{}
	}))

	conn := dial(t, url)
	if err := conn.WriteJSON(uihub.Message{Type: "connect", ConversationID: "c1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteJSON(uihub.Message{Type: "disconnect"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	for range 2 {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for command")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if cmds[0].Type != "connect" || cmds[0].ConversationID != "c1" || cmds[1].Type != "disconnect" {
		t.Errorf("commands = %+v", cmds)
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	t.Parallel()

	h, url := newHubServer(t)
	conn := dial(t, url)
	waitClients(t, h, 1)

	_ = h.Close()
	waitClients(t, h, 0)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Errorf("read err = %v, want normal closure", err)
			}
			return
		}
	}
}

func TestRunVolumeMeterSkipsUnchanged(t *testing.T) {
	t.Parallel()

	h, url := newHubServer(t)
	conn := dial(t, url)
	waitClients(t, h, 1)
	read(t, conn)
	read(t, conn)

	var (
		mu    sync.Mutex
		level = 10.0
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.RunVolumeMeter(ctx, time.Millisecond, func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return level
	})

	if m := read(t, conn); *m.Volume != 10 {
		t.Fatalf("volume = %v, want 10", *m.Volume)
	}
	mu.Lock()
	level = 20
	mu.Unlock()
	if m := read(t, conn); *m.Volume != 20 {
		t.Fatalf("volume = %v, want 20 (unchanged levels must be skipped)", *m.Volume)
	}
}
