package shell

import "testing"

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	a, unsubA := b.Subscribe()
	c, unsubC := b.Subscribe()
	defer unsubC()

	b.Publish(Event{Type: EventProgress, Message: "one"})
	if ev := <-a; ev.Message != "one" {
		t.Fatalf("subscriber a got %q", ev.Message)
	}
	if ev := <-c; ev.Message != "one" {
		t.Fatalf("subscriber c got %q", ev.Message)
	}

	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
	b.Publish(Event{Type: EventProgress, Message: "two"})
	if ev := <-c; ev.Message != "two" {
		t.Fatalf("subscriber c got %q", ev.Message)
	}
}

func TestBrokerDropsForSlowSubscribers(t *testing.T) {
	b := NewBroker()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish(Event{Type: EventProgress})
	}
	if len(ch) != subscriberBufferSize {
		t.Fatalf("buffered %d events, want %d", len(ch), subscriberBufferSize)
	}
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker()
	ch, unsub := b.Subscribe()
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	unsub()
	b.Close()

	late, _ := b.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("late subscriber should receive a closed channel")
	}
	b.Publish(Event{Type: EventDone})
}
