package transcript

import (
	"fmt"
	"testing"
	"time"
)

func entry(text string, mode SendMode) Pending {
	return Pending{Text: text, Mode: mode, CreatedAt: time.Now()}
}

func TestEnqueue_MergesSameMode(t *testing.T) {
	q := NewQueue(5)
	q.Enqueue(entry("hello", SendAuto))
	q.Enqueue(entry("world", SendAuto))

	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1 merged entry", q.Len())
	}
	p, _ := q.Peek()
	if p.Text != "hello world" {
		t.Errorf("merged text = %q, want %q", p.Text, "hello world")
	}
}

func TestEnqueue_DifferentModesDoNotMerge(t *testing.T) {
	q := NewQueue(5)
	q.Enqueue(entry("one", SendAuto))
	q.Enqueue(entry("two", SendInsert))
	q.Enqueue(entry("three", SendAuto))

	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}
}

func TestEnqueue_DropOldestOnOverflow(t *testing.T) {
	q := NewQueue(5)
	// Alternate modes so nothing merges.
	for i := 1; i <= 6; i++ {
		mode := SendAuto
		if i%2 == 0 {
			mode = SendInsert
		}
		dropped := q.Enqueue(entry(fmt.Sprintf("t%d", i), mode))
		if i < 6 && dropped {
			t.Fatalf("entry %d reported a drop before the queue was full", i)
		}
		if i == 6 && !dropped {
			t.Fatal("sixth entry did not report a drop")
		}
	}

	if q.Len() != 5 {
		t.Fatalf("Len = %d, want 5", q.Len())
	}
	if q.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", q.Dropped())
	}
	p, _ := q.Dequeue()
	if p.Text != "t2" {
		t.Errorf("oldest surviving entry = %q, want t2", p.Text)
	}
}

func TestEnqueue_BoundHoldsUnderPressure(t *testing.T) {
	q := NewQueue(5)
	for i := 0; i < 50; i++ {
		mode := SendAuto
		if i%2 == 0 {
			mode = SendInsert
		}
		q.Enqueue(entry(fmt.Sprintf("x%d", i), mode))
		if q.Len() > 5 {
			t.Fatalf("queue length %d exceeds capacity after %d enqueues", q.Len(), i+1)
		}
	}
}

func TestEnqueue_IgnoresBlankText(t *testing.T) {
	q := NewQueue(5)
	if q.Enqueue(entry("   ", SendAuto)) {
		t.Error("blank enqueue reported a drop")
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestDequeue_FIFO(t *testing.T) {
	q := NewQueue(5)
	q.Enqueue(entry("a", SendAuto))
	q.Enqueue(entry("b", SendInsert))

	first, ok := q.Dequeue()
	if !ok || first.Text != "a" {
		t.Fatalf("first dequeue = %q, %v", first.Text, ok)
	}
	second, ok := q.Dequeue()
	if !ok || second.Text != "b" {
		t.Fatalf("second dequeue = %q, %v", second.Text, ok)
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("dequeue on empty queue reported ok")
	}
}

func TestParseSendMode(t *testing.T) {
	tests := []struct {
		in   string
		mode SendMode
		ok   bool
	}{
		{"auto", SendAuto, true},
		{"insert", SendInsert, true},
		{"Insert ", SendInsert, true},
		{"", SendAuto, true},
		{"yolo", SendAuto, false},
	}
	for _, tt := range tests {
		mode, ok := ParseSendMode(tt.in)
		if mode != tt.mode || ok != tt.ok {
			t.Errorf("ParseSendMode(%q) = %v, %v; want %v, %v", tt.in, mode, ok, tt.mode, tt.ok)
		}
	}
}
