package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/calmmind/internal/domain/model"
)

func record(id string) Record {
	return model.SubmissionRecord{
		ID:      id,
		Payload: model.CohortPayload{CohortID: "balanced", AvgScreenMinutes: 300},
	}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, record("rec1")) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	rec := <-q.Dequeue(ctx)
	if rec.ID != "rec1" {
		t.Errorf("expected rec1, got %v", rec.ID)
	}
	if rec.Payload.AvgScreenMinutes != 300 {
		t.Errorf("expected payload to survive the queue, got %v", rec.Payload)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2), WithBufferSize(1))
	ctx := context.Background()

	if !q.Enqueue(ctx, record("rec1")) || !q.Enqueue(ctx, record("rec2")) {
		t.Fatal("expected first two enqueues to succeed")
	}
	if q.Enqueue(ctx, record("rec3")) {
		t.Error("expected enqueue to fail at capacity")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if q.Enqueue(ctx, record("rec1")) {
		t.Error("expected enqueue to fail with a cancelled context")
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	const producers, perProducer = 8, 50
	q := NewInMemoryQueue(WithCapacity(16))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var consumed sync.Map
	var consumers sync.WaitGroup
	for i := 0; i < 4; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for rec := range q.Dequeue(ctx) {
				consumed.Store(rec.ID, true)
			}
		}()
	}

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				rec := record(fmt.Sprintf("rec%d_%d", id, j))
				for !q.Enqueue(ctx, rec) {
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}
	wg.Wait()

	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	consumers.Wait()

	n := 0
	consumed.Range(func(_, _ any) bool {
		n++
		return true
	})
	if n != producers*perProducer {
		t.Errorf("expected %d records consumed, got %d", producers*perProducer, n)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, record("rec1")) || !q.Enqueue(ctx, record("rec2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, record("rec3")) {
		t.Error("expected enqueue to fail after closing")
	}

	// Queued records drain before the channel closes.
	var got []string
	timeout := time.After(time.Second)
	ch := q.Dequeue(ctx)
	for done := false; !done; {
		select {
		case rec, ok := <-ch:
			if !ok {
				done = true
				break
			}
			got = append(got, rec.ID)
		case <-timeout:
			t.Fatal("expected dequeue channel to close within timeout")
		}
	}
	if len(got) != 2 || got[0] != "rec1" || got[1] != "rec2" {
		t.Errorf("expected [rec1 rec2], got %v", got)
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}
