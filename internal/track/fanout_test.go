package track

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPushDelivery(t *testing.T) {
	s := NewStore()
	f := NewFanout(s, time.Hour, zap.NewNop()) // poll effectively disabled

	sub := f.Subscribe("m1")
	defer sub.Cancel()

	p := sample("a", "m1", time.Now())
	s.Append(p)
	f.Publish(p)

	select {
	case got := <-sub.Updates():
		if got.ID != "a" {
			t.Fatalf("unexpected sample: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("push not delivered")
	}
}

func TestPublishDoesNotReachOtherMissions(t *testing.T) {
	s := NewStore()
	f := NewFanout(s, time.Hour, zap.NewNop())

	sub := f.Subscribe("m2")
	defer sub.Cancel()

	f.Publish(sample("a", "m1", time.Now()))

	select {
	case got := <-sub.Updates():
		t.Fatalf("observer of m2 received sample for %s", got.MissionID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPollFallbackRecoversMissedPush(t *testing.T) {
	s := NewStore()
	f := NewFanout(s, 20*time.Millisecond, zap.NewNop())

	sub := f.Subscribe("m1")
	defer sub.Cancel()

	// appended without a Publish: only the poll path can see it
	s.Append(sample("missed", "m1", time.Now()))

	select {
	case got := <-sub.Updates():
		if got.ID != "missed" {
			t.Fatalf("unexpected sample: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("poll fallback did not deliver")
	}
}

func TestPollIsMonotonicPerObserver(t *testing.T) {
	s := NewStore()
	f := NewFanout(s, 10*time.Millisecond, zap.NewNop())

	base := time.Now()
	s.Append(sample("p1", "m1", base))
	s.Append(sample("p2", "m1", base.Add(time.Second)))

	sub := f.Subscribe("m1")
	defer sub.Cancel()

	var last time.Time
	for i := 0; i < 2; i++ {
		select {
		case got := <-sub.Updates():
			if got.RecordedAt.Before(last) {
				t.Fatalf("poll went backwards: %v before %v", got.RecordedAt, last)
			}
			last = got.RecordedAt
		case <-time.After(time.Second):
			t.Fatalf("expected 2 polled samples, got %d", i)
		}
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	s := NewStore()
	f := NewFanout(s, 10*time.Millisecond, zap.NewNop())

	sub := f.Subscribe("m1")
	sub.Cancel()
	sub.Cancel() // idempotent

	if n := f.ObserverCount("m1"); n != 0 {
		t.Fatalf("expected 0 observers after cancel, got %d", n)
	}

	// delivery to a cancelled observer is dropped, not an error
	f.Publish(sample("late", "m1", time.Now()))

	select {
	case <-sub.Done():
	default:
		t.Fatal("Done should be closed after cancel")
	}
}

func TestSlowObserverEventuallySeesEverySample(t *testing.T) {
	s := NewStore()
	f := NewFanout(s, 10*time.Millisecond, zap.NewNop())

	sub := f.Subscribe("m1")
	defer sub.Cancel()

	// overflow the push buffer before the observer drains anything
	const total = subscriptionBuffer + 10
	base := time.Now()
	for i := 0; i < total; i++ {
		p := sample(time.Duration(i).String(), "m1", base.Add(time.Duration(i)*time.Millisecond))
		s.Append(p)
		f.Publish(p)
	}

	// let a few poll cycles run against the still-full buffer
	time.Sleep(50 * time.Millisecond)

	seen := make(map[string]struct{})
	deadline := time.After(3 * time.Second)
	for len(seen) < total {
		select {
		case got := <-sub.Updates():
			seen[got.ID] = struct{}{}
		case <-deadline:
			t.Fatalf("expected %d distinct samples, got %d", total, len(seen))
		}
	}
}

func TestSlowObserverDoesNotBlockPublish(t *testing.T) {
	s := NewStore()
	f := NewFanout(s, time.Hour, zap.NewNop())

	sub := f.Subscribe("m1")
	defer sub.Cancel()

	// never drain; publishes beyond the buffer must not block
	done := make(chan struct{})
	go func() {
		base := time.Now()
		for i := 0; i < subscriptionBuffer*2; i++ {
			f.Publish(sample(time.Duration(i).String(), "m1", base.Add(time.Duration(i))))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow observer")
	}
}
