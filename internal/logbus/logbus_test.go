package logbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New(8, 0)
	sub := b.Subscribe("app-1")
	defer b.Unsubscribe("app-1", sub)

	b.Publish("app-1", Line{Stream: "stdout", Text: "hello", Timestamp: time.Now()})

	select {
	case line := <-sub.C():
		if line.Text != "hello" {
			t.Errorf("got %q", line.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for line")
	}
}

func TestPublishDoesNotReachOtherWorkspaces(t *testing.T) {
	b := New(8, 0)
	subA := b.Subscribe("app-a")
	subB := b.Subscribe("app-b")
	defer b.Unsubscribe("app-a", subA)
	defer b.Unsubscribe("app-b", subB)

	b.Publish("app-a", Line{Text: "only for a"})

	select {
	case <-subB.C():
		t.Fatal("subscriber for app-b should not receive app-a's line")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case line := <-subA.C():
		if line.Text != "only for a" {
			t.Errorf("got %q", line.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for line")
	}
}

func TestSubscribeReceivesReplayBuffer(t *testing.T) {
	b := New(8, 2)
	b.Publish("app-1", Line{Text: "first"})
	b.Publish("app-1", Line{Text: "second"})
	b.Publish("app-1", Line{Text: "third"})

	sub := b.Subscribe("app-1")
	defer b.Unsubscribe("app-1", sub)

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case line := <-sub.C():
			got = append(got, line.Text)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for replay line")
		}
	}
	if got[0] != "second" || got[1] != "third" {
		t.Errorf("expected replay of last 2 lines, got %v", got)
	}
}

func TestDropsOldestWhenBufferFull(t *testing.T) {
	b := New(1, 0)
	sub := b.Subscribe("app-1")
	defer b.Unsubscribe("app-1", sub)

	b.Publish("app-1", Line{Text: "a"})
	b.Publish("app-1", Line{Text: "b"}) // buffer full, "a" should be evicted

	if sub.Dropped() != 1 {
		t.Errorf("expected 1 dropped line, got %d", sub.Dropped())
	}

	select {
	case line := <-sub.C():
		if line.Text != "b" {
			t.Errorf("expected the newest line to survive, got %q", line.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for line")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(8, 0)
	sub := b.Subscribe("app-1")
	b.Unsubscribe("app-1", sub)

	_, ok := <-sub.C()
	if ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestDropDisconnectsAllSubscribers(t *testing.T) {
	b := New(8, 0)
	sub := b.Subscribe("app-1")
	b.Drop("app-1")

	_, ok := <-sub.C()
	if ok {
		t.Error("expected channel to be closed after Drop")
	}
}
