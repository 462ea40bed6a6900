package relay

import (
	"errors"
	"strconv"
	"testing"

	"github.com/coder/websocket"
)

func textFrame(s string) Frame {
	return Frame{Type: websocket.MessageText, Data: []byte(s)}
}

func TestQueueDropsOldestOnOverflow(t *testing.T) {
	q := NewQueue(2)

	q.Enqueue(textFrame("a"))
	q.Enqueue(textFrame("b"))
	q.Enqueue(textFrame("c"))

	if q.Len() != 2 {
		t.Fatalf("Expected queue length 2, got %d", q.Len())
	}
	if q.Dropped() != 1 {
		t.Errorf("Expected 1 dropped frame, got %d", q.Dropped())
	}

	var got []string
	if err := q.Flush(func(f Frame) error {
		got = append(got, string(f.Data))
		return nil
	}); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("Expected [b c], got %v", got)
	}
}

func TestQueueRetainsLastCapacityEntriesInOrder(t *testing.T) {
	const capacity = 50
	q := NewQueue(capacity)

	for i := 0; i < 120; i++ {
		q.Enqueue(textFrame(strconv.Itoa(i)))
	}

	if q.Len() != capacity {
		t.Fatalf("Expected queue length %d, got %d", capacity, q.Len())
	}

	var got []string
	if err := q.Flush(func(f Frame) error {
		got = append(got, string(f.Data))
		return nil
	}); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	for i, s := range got {
		want := strconv.Itoa(120 - capacity + i)
		if s != want {
			t.Fatalf("Entry %d: expected %q, got %q", i, want, s)
		}
	}
}

func TestQueueFlushDeliversInOrderAndEmpties(t *testing.T) {
	q := NewQueue(10)
	q.Enqueue(textFrame("m1"))
	q.Enqueue(textFrame("m2"))
	q.Enqueue(textFrame("m3"))

	var got []string
	if err := q.Flush(func(f Frame) error {
		got = append(got, string(f.Data))
		return nil
	}); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if len(got) != 3 || got[0] != "m1" || got[1] != "m2" || got[2] != "m3" {
		t.Errorf("Expected [m1 m2 m3], got %v", got)
	}
	if q.Len() != 0 {
		t.Errorf("Expected empty queue after flush, got length %d", q.Len())
	}
}

func TestQueueFlushStopsAndEmptiesOnWriteError(t *testing.T) {
	q := NewQueue(10)
	q.Enqueue(textFrame("m1"))
	q.Enqueue(textFrame("m2"))

	wantErr := errors.New("write failed")
	err := q.Flush(func(f Frame) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("Expected write error, got %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("Expected empty queue after failed flush, got length %d", q.Len())
	}
}

func TestQueueClearDropsWithoutDelivery(t *testing.T) {
	q := NewQueue(10)
	q.Enqueue(textFrame("m1"))
	q.Enqueue(textFrame("m2"))

	q.Clear()

	if q.Len() != 0 {
		t.Errorf("Expected empty queue after clear, got length %d", q.Len())
	}
}
