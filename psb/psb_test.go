package psb

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribePublishDeliversToMatchingPrefix(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	s1 := b.NewSubscriber()
	s2 := b.NewSubscriber()

	if err := b.Subscribe(s1, "orders.eu"); err != nil {
		t.Fatalf("Subscribe(s1) = %v", err)
	}
	if err := b.Subscribe(s2, "orders.us"); err != nil {
		t.Fatalf("Subscribe(s2) = %v", err)
	}

	delivered := b.Publish("orders.eu.created", []byte("payload"))
	if delivered != 1 {
		t.Fatalf("Publish delivered = %d, want 1", delivered)
	}

	timeout := 50 * time.Millisecond
	msg, err := s1.GetMessage(&timeout)
	if err != nil {
		t.Fatalf("s1.GetMessage = %v", err)
	}
	if msg.Channel != "orders.eu.created" || string(msg.Payload) != "payload" {
		t.Fatalf("s1 got %+v", msg)
	}

	if _, err := s2.GetMessage(&timeout); err != ErrTimeout {
		t.Fatalf("s2.GetMessage = %v, want ErrTimeout", err)
	}
}

func TestEmptyStringSubscriptionReceivesEverything(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	s := b.NewSubscriber()
	if err := b.Subscribe(s, ""); err != nil {
		t.Fatalf("Subscribe(\"\") = %v", err)
	}

	b.Publish("anything.at.all", []byte("x"))
	b.Publish("something.else", []byte("y"))

	timeout := 50 * time.Millisecond
	for _, want := range []string{"anything.at.all", "something.else"} {
		msg, err := s.GetMessage(&timeout)
		if err != nil {
			t.Fatalf("GetMessage = %v", err)
		}
		if msg.Channel != want {
			t.Fatalf("GetMessage channel = %q, want %q", msg.Channel, want)
		}
	}
}

func TestSubscribeDuplicateAndUnsubscribe(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	s := b.NewSubscriber()
	if err := b.Subscribe(s, "a.b"); err != nil {
		t.Fatalf("first Subscribe = %v", err)
	}
	if err := b.Subscribe(s, "a.b"); err != ErrAlreadySubscribed {
		t.Fatalf("second Subscribe = %v, want ErrAlreadySubscribed", err)
	}

	if err := b.Unsubscribe(s, "a.b"); err != nil {
		t.Fatalf("first Unsubscribe = %v", err)
	}
	if b.Publish("a.b.c", nil); s.MessagesCount() != 0 {
		t.Fatalf("subscriber should no longer receive a.b.c after unsubscribe")
	}

	if err := b.Unsubscribe(s, "a.b"); err != ErrNotSubscribed {
		t.Fatalf("second Unsubscribe = %v, want ErrNotSubscribed", err)
	}
}

// TestSubscribeIsIdempotentForRefcount guards against a second Subscribe
// of the same exact channel pushing the trie's refcount above 1: a
// single Unsubscribe afterward must remove the subscription entirely,
// not merely decrement it.
func TestSubscribeIsIdempotentForRefcount(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	s := b.NewSubscriber()
	if err := b.Subscribe(s, "a.b"); err != nil {
		t.Fatalf("first Subscribe = %v", err)
	}
	if err := b.Subscribe(s, "a.b"); err != ErrAlreadySubscribed {
		t.Fatalf("second Subscribe = %v, want ErrAlreadySubscribed", err)
	}

	if err := b.Unsubscribe(s, "a.b"); err != nil {
		t.Fatalf("Unsubscribe = %v", err)
	}
	if err := b.Unsubscribe(s, "a.b"); err != ErrNotSubscribed {
		t.Fatalf("second Unsubscribe = %v, want ErrNotSubscribed (refcount leaked above 1)", err)
	}
}

func TestDeleteSubscriberDetaches(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	s := b.NewSubscriber()
	b.Subscribe(s, "a")

	if err := b.DeleteSubscriber(s); err != nil {
		t.Fatalf("DeleteSubscriber = %v", err)
	}
	if err := b.DeleteSubscriber(s); err != ErrInvalidArgument {
		t.Fatalf("second DeleteSubscriber = %v, want ErrInvalidArgument", err)
	}
	if err := b.Subscribe(s, "b"); err != ErrInvalidArgument {
		t.Fatalf("Subscribe on a detached subscriber = %v, want ErrInvalidArgument", err)
	}

	if delivered := b.Publish("a.anything", nil); delivered != 0 {
		t.Fatalf("Publish delivered = %d, want 0 (subscriber detached)", delivered)
	}
}

func TestGetMessageTimeout(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	s := b.NewSubscriber()
	b.Subscribe(s, "x")

	timeout := 100 * time.Millisecond
	start := time.Now()
	_, err := s.GetMessage(&timeout)
	elapsed := time.Since(start)

	if err != ErrTimeout {
		t.Fatalf("GetMessage = %v, want ErrTimeout", err)
	}
	if elapsed < 100*time.Millisecond {
		t.Fatalf("GetMessage returned after %v, want at least 100ms", elapsed)
	}
}

func TestDefaultBrokerSingleton(t *testing.T) {
	b1 := DefaultBroker()
	b2 := DefaultBroker()
	if b1 != b2 {
		t.Fatal("DefaultBroker() returned different instances across calls")
	}
}

// TestConcurrentPublishSubscribe is a scaled-down version of the
// publisher/subscriber stress scenario: several publisher goroutines and
// several subscriber goroutines hammer one broker concurrently, and
// every subscriber must eventually observe every message addressed to
// its own channel.
func TestConcurrentPublishSubscribe(t *testing.T) {
	const publishers = 5
	const subscribersCount = 10
	const opsPerPublisher = 200

	b := NewBroker(nil)
	defer b.Close()

	subs := make([]*Subscriber, subscribersCount)
	for i := range subs {
		subs[i] = b.NewSubscriber()
		if err := b.Subscribe(subs[i], "load.test"); err != nil {
			t.Fatalf("Subscribe = %v", err)
		}
	}

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < opsPerPublisher; i++ {
				b.Publish("load.test.event", []byte("x"))
			}
		}()
	}
	wg.Wait()

	want := publishers * opsPerPublisher
	timeout := time.Second
	for _, s := range subs {
		got := 0
		for got < want {
			if _, err := s.GetMessage(&timeout); err != nil {
				t.Fatalf("GetMessage = %v after receiving %d/%d", err, got, want)
			}
			got++
		}
	}
}
