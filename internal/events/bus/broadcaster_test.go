package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/task/models"
)

func testEvent(n int) *events.Event {
	return events.New(events.TaskCreated, "proj-1", fmt.Sprintf("task-%d", n), models.SystemActor("test"), nil)
}

func TestBroadcasterDelivers(t *testing.T) {
	b := NewBroadcaster(0)
	defer b.Close()

	sub := b.Subscribe()
	if sub == nil {
		t.Fatal("expected subscription")
	}
	defer sub.Close()

	b.Publish(testEvent(1))

	select {
	case evt := <-sub.C():
		if evt.EventType != events.TaskCreated {
			t.Errorf("event type = %q, want %q", evt.EventType, events.TaskCreated)
		}
		if evt.TaskID != "task-1" {
			t.Errorf("task id = %q, want task-1", evt.TaskID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcasterMinimumBuffer(t *testing.T) {
	b := NewBroadcaster(8)
	defer b.Close()

	sub := b.Subscribe()
	defer sub.Close()

	if got := cap(sub.ch); got != DefaultBuffer {
		t.Errorf("buffer capacity = %d, want %d", got, DefaultBuffer)
	}
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	b := NewBroadcaster(0)
	defer b.Close()

	sub := b.Subscribe()
	defer sub.Close()

	// Fill the buffer, then overflow it by five.
	for i := 0; i < DefaultBuffer+5; i++ {
		b.Publish(testEvent(i))
	}

	if got := sub.TakeLagged(); got != 5 {
		t.Errorf("lagged = %d, want 5", got)
	}
	// The counter resets after a take.
	if got := sub.TakeLagged(); got != 0 {
		t.Errorf("lagged after reset = %d, want 0", got)
	}

	// Buffered events are still all deliverable.
	for i := 0; i < DefaultBuffer; i++ {
		select {
		case <-sub.C():
		default:
			t.Fatalf("expected %d buffered events, drained %d", DefaultBuffer, i)
		}
	}
}

func TestBroadcasterSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroadcaster(0)
	defer b.Close()

	slow := b.Subscribe()
	defer slow.Close()
	fast := b.Subscribe()
	defer fast.Close()

	for i := 0; i < DefaultBuffer+1; i++ {
		b.Publish(testEvent(i))
	}

	if got := slow.TakeLagged(); got != 1 {
		t.Errorf("slow lagged = %d, want 1", got)
	}
	if got := fast.TakeLagged(); got != 1 {
		t.Errorf("fast lagged = %d, want 1", got)
	}

	// Drain fast, publish again: fast receives, slow keeps dropping.
	for i := 0; i < DefaultBuffer; i++ {
		<-fast.C()
	}
	b.Publish(testEvent(99))
	select {
	case <-fast.C():
	case <-time.After(time.Second):
		t.Fatal("fast subscriber should still receive")
	}
	if got := slow.TakeLagged(); got != 1 {
		t.Errorf("slow lagged after second round = %d, want 1", got)
	}
}

func TestSubscriptionClose(t *testing.T) {
	b := NewBroadcaster(0)
	defer b.Close()

	sub := b.Subscribe()
	sub.Close()
	sub.Close() // idempotent

	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("subscriber count = %d, want 0", n)
	}

	// The channel closes so a ranging reader terminates.
	select {
	case _, ok := <-sub.C():
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	// Publishing after close must not panic.
	b.Publish(testEvent(1))
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster(0)
	sub := b.Subscribe()

	b.Close()
	b.Close() // idempotent

	if _, ok := <-sub.C(); ok {
		t.Error("expected closed subscriber channel")
	}
	if got := b.Subscribe(); got != nil {
		t.Error("Subscribe after Close should return nil")
	}
	b.Publish(testEvent(1)) // no panic
	sub.Close()             // no panic after broadcaster close
}

func TestBroadcasterConcurrentPublishAndClose(t *testing.T) {
	b := NewBroadcaster(0)
	defer b.Close()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b.Publish(testEvent(i))
			}
		}()
	}
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				sub := b.Subscribe()
				if sub == nil {
					return
				}
				sub.TakeLagged()
				sub.Close()
			}
		}()
	}
	wg.Wait()

	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("subscriber count after churn = %d, want 0", n)
	}
}
