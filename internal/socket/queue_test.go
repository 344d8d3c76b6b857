package socket

import (
	"errors"
	"testing"
)

func TestSendQueue_FIFO(t *testing.T) {
	q := newSendQueue(0)

	for _, s := range []string{"a", "b", "c"} {
		if err := q.push([]byte(s)); err != nil {
			t.Fatalf("push(%s) failed: %v", s, err)
		}
	}

	var got []string
	sent, err := q.flush(func(data []byte) error {
		got = append(got, string(data))
		return nil
	})
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if sent != 3 {
		t.Errorf("flush sent = %d, want 3", sent)
	}

	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("flush order[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if q.len() != 0 {
		t.Errorf("len after full flush = %d, want 0", q.len())
	}
}

func TestSendQueue_PartialFlush(t *testing.T) {
	q := newSendQueue(0)
	for _, s := range []string{"a", "b", "c"} {
		q.push([]byte(s))
	}

	sendErr := errors.New("write failed")
	sent, err := q.flush(func(data []byte) error {
		if string(data) == "b" {
			return sendErr
		}
		return nil
	})
	if !errors.Is(err, sendErr) {
		t.Fatalf("flush error = %v, want the send failure", err)
	}
	if sent != 1 {
		t.Errorf("flush sent = %d, want 1", sent)
	}

	// The failed item and everything behind it stay queued, in order.
	if q.len() != 2 {
		t.Fatalf("len after partial flush = %d, want 2", q.len())
	}
	head, _ := q.peek()
	if string(head) != "b" {
		t.Errorf("head after partial flush = %q, want %q", head, "b")
	}
}

func TestSendQueue_Limit(t *testing.T) {
	q := newSendQueue(2)

	if err := q.push([]byte("a")); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if err := q.push([]byte("b")); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if err := q.push([]byte("c")); !errors.Is(err, ErrQueueFull) {
		t.Errorf("push over limit error = %v, want ErrQueueFull", err)
	}
	if q.len() != 2 {
		t.Errorf("len = %d, want 2", q.len())
	}
}
