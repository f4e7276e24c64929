package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalQueueRetriesUntilSuccess(t *testing.T) {
	q := NewLocalQueue(4, 3, time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan int, 1)
	q.Start(ctx, 1, func(_ context.Context, job JobStatus) error {
		if calls.Add(1) < 2 {
			return errors.New("try again")
		}
		done <- job.Attempts
		return nil
	})
	if _, err := q.Enqueue(ctx, "isbn", "123"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case attempts := <-done:
		if attempts != 2 {
			t.Fatalf("expected success on attempt 2, got %d", attempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not complete")
	}
}

func TestLocalQueueFull(t *testing.T) {
	q := NewLocalQueue(1, 1, 0, nil)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "isbn", "1"); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, "isbn", "2"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
}
