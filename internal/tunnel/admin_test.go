package tunnel

import (
	"context"
	"testing"
	"time"

	"github.com/cylance/MarkovObfuscate/internal/platform/logger"
)

func TestHubRegisterUnregisterTracksClientCount(t *testing.T) {
	h := NewHub(logger.NewLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &AdminClient{ID: "client-1", Send: make(chan []byte, 4)}
	h.register <- client
	waitForCondition(t, func() bool { return h.ClientCount() == 1 })

	h.unregister <- client
	waitForCondition(t, func() bool { return h.ClientCount() == 0 })
}

func TestHubBroadcastFansOutToAllClients(t *testing.T) {
	h := NewHub(logger.NewLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	a := &AdminClient{ID: "a", Send: make(chan []byte, 4)}
	b := &AdminClient{ID: "b", Send: make(chan []byte, 4)}
	h.register <- a
	h.register <- b
	waitForCondition(t, func() bool { return h.ClientCount() == 2 })

	h.Broadcast(Message{Type: MsgTypeTunnelOpen, Payload: map[string]interface{}{"session": "s1"}})

	for _, c := range []*AdminClient{a, b} {
		select {
		case msg := <-c.Send:
			if len(msg) == 0 {
				t.Fatalf("client %s received an empty message", c.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %s never received the broadcast", c.ID)
		}
	}
}

func TestHubEvictsClientWithFullSendBuffer(t *testing.T) {
	h := NewHub(logger.NewLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	slow := &AdminClient{ID: "slow", Send: make(chan []byte)} // unbuffered, never drained
	h.register <- slow
	waitForCondition(t, func() bool { return h.ClientCount() == 1 })

	h.Broadcast(Message{Type: MsgTypePing})
	waitForCondition(t, func() bool { return h.ClientCount() == 0 })
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
