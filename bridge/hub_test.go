package bridge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexloop/wabridge/bridge/domain"
)

func drainOne(t *testing.T, sub *Subscriber) Frame {
	t.Helper()
	select {
	case f := <-sub.Frames():
		return f
	default:
		t.Fatal("expected a buffered frame")
		return Frame{}
	}
}

func TestHubSyntheticStatusOnSubscribe(t *testing.T) {
	hub := NewHub()
	hub.SnapshotFunc = func(instanceID string) (domain.SessionSnapshot, bool) {
		if instanceID == "inst-live" {
			return domain.SessionSnapshot{State: domain.StateAuthenticated}, true
		}
		return domain.SessionSnapshot{}, false
	}

	live := hub.Subscribe("inst-live")
	dead := hub.Subscribe("inst-dead")

	assert.Equal(t, Frame{Type: "status", Data: "connected"}, drainOne(t, live))
	assert.Equal(t, Frame{Type: "status", Data: "disconnected"}, drainOne(t, dead))

	hub.Unsubscribe(live)
	hub.Unsubscribe(dead)
}

func TestHubSubscribeSafeUnderPublishLoad(t *testing.T) {
	hub := NewHub()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				hub.PublishLocal("inst1", Frame{Type: "status", Data: "connecting"})
			}
		}
	}()

	// Saturation may prune a fresh subscriber, but the synthetic frame is
	// always queued first and Subscribe must never panic.
	for i := 0; i < 200; i++ {
		sub := hub.Subscribe("inst1")
		f := <-sub.Frames()
		assert.Equal(t, "status", f.Type)
		hub.Unsubscribe(sub)
	}

	close(stop)
	wg.Wait()
}

func TestHubPublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub()

	a := hub.Subscribe("inst1")
	b := hub.Subscribe("inst1")
	other := hub.Subscribe("inst2")
	drainOne(t, a)
	drainOne(t, b)
	drainOne(t, other)

	hub.Publish("inst1", Frame{Type: "qr", Data: "payload"})

	assert.Equal(t, "payload", drainOne(t, a).Data)
	assert.Equal(t, "payload", drainOne(t, b).Data)
	select {
	case f := <-other.Frames():
		t.Fatalf("inst2 subscriber received frame for inst1: %+v", f)
	default:
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("inst1")
	drainOne(t, sub)

	hub.Unsubscribe(sub)

	_, open := <-sub.Frames()
	assert.False(t, open)
	assert.Equal(t, 0, hub.SubscriberCount("inst1"))

	// Double unsubscribe is a no-op.
	hub.Unsubscribe(sub)
}

func TestHubPrunesSaturatedSubscriber(t *testing.T) {
	hub := NewHub()
	slow := hub.Subscribe("inst1")
	// Leave the synthetic frame unread and fill the rest of the buffer.
	for i := 1; i < subscriberBuffer; i++ {
		hub.Publish("inst1", Frame{Type: "status", Data: "connecting"})
	}
	assert.Equal(t, 1, hub.SubscriberCount("inst1"))

	// Buffer is full now, so this publish prunes instead of blocking.
	hub.Publish("inst1", Frame{Type: "status", Data: "connected"})
	assert.Equal(t, 0, hub.SubscriberCount("inst1"))

	// Channel was closed after the buffered frames.
	got := 0
	for range slow.Frames() {
		got++
	}
	assert.Equal(t, subscriberBuffer, got)
}

func TestHubMembershipCallbacks(t *testing.T) {
	hub := NewHub()
	var firsts, empties []string
	hub.OnFirst = func(id string) { firsts = append(firsts, id) }
	hub.OnEmpty = func(id string) { empties = append(empties, id) }

	a := hub.Subscribe("inst1")
	b := hub.Subscribe("inst1")
	assert.Equal(t, []string{"inst1"}, firsts)

	hub.Unsubscribe(a)
	assert.Empty(t, empties)
	hub.Unsubscribe(b)
	assert.Equal(t, []string{"inst1"}, empties)
}

func TestHubForwardOnlyOnPublish(t *testing.T) {
	hub := NewHub()
	var forwarded []Frame
	hub.Forward = func(instanceID string, f Frame) { forwarded = append(forwarded, f) }

	sub := hub.Subscribe("inst1")
	drainOne(t, sub)

	hub.Publish("inst1", Frame{Type: "qr", Data: "a"})
	hub.PublishLocal("inst1", Frame{Type: "qr", Data: "b"})

	assert.Len(t, forwarded, 1)
	assert.Equal(t, "a", forwarded[0].Data)
	assert.Equal(t, "a", drainOne(t, sub).Data)
	assert.Equal(t, "b", drainOne(t, sub).Data)
}
