package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/events"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func (r *recordingPublisher) Publish(subject string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.msgs == nil {
		r.msgs = make(map[string][][]byte)
	}
	r.msgs[subject] = append(r.msgs[subject], data)
	return nil
}

func (r *recordingPublisher) count(subject string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs[subject])
}

func TestSubject(t *testing.T) {
	tests := []struct {
		eventType events.EventType
		payload   events.Payload
		want      string
	}{
		{events.EventSlotChanged, events.Payload{events.KeyCategory: "drone"}, "slotwatch.slots.drone"},
		{events.EventSlotChanged, events.Payload{}, "slotwatch.slots"},
		{events.EventPollCompleted, nil, "slotwatch.polls"},
		{events.EventSnapshotCleared, nil, "slotwatch.events.snapshot.cleared"},
	}
	for _, tt := range tests {
		if got := Subject(tt.eventType, tt.payload); got != tt.want {
			t.Errorf("Subject(%s) = %q, want %q", tt.eventType, got, tt.want)
		}
	}
}

func TestMessageRoundTrip(t *testing.T) {
	data, err := marshalNATSMessage(events.EventSlotChanged, events.Payload{events.KeyStatus: "정원마감"}, "node-1")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg, err := unmarshalNATSMessage(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.EventType != events.EventSlotChanged || msg.NodeID != "node-1" || msg.MessageID == "" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Payload.String(events.KeyStatus) != "정원마감" {
		t.Fatalf("payload = %v", msg.Payload)
	}
}

func TestBridgeForwardsEvents(t *testing.T) {
	bus := events.NewBus()
	pub := &recordingPublisher{}
	bridge := newBridge(pub, nil, bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bridge.Run(ctx)
		close(done)
	}()

	// Wait for Run to subscribe before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for pub.count("slotwatch.slots.ai") == 0 && time.Now().Before(deadline) {
		bus.Publish(events.EventSlotChanged, events.Payload{events.KeyCategory: "ai"})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if pub.count("slotwatch.slots.ai") == 0 {
		t.Fatal("slot change was not forwarded")
	}
}
