package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		if err := q.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d) error: %v", i, err)
		}
	}
	if q.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", q.Len())
	}

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		v, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue error: %v", err)
		}
		if v != i {
			t.Fatalf("Dequeue = %d, want %d", v, i)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	defer leaktest.Check(t)()

	q := New[string]()
	got := make(chan string, 1)

	go func() {
		v, err := q.Dequeue(context.Background())
		if err != nil {
			t.Errorf("Dequeue error: %v", err)
			return
		}
		got <- v
	}()

	select {
	case v := <-got:
		t.Fatalf("Dequeue returned %q before any Enqueue", v)
	case <-time.After(30 * time.Millisecond):
	}

	q.Enqueue("conn-1")

	select {
	case v := <-got:
		if v != "conn-1" {
			t.Errorf("Dequeue = %q, want conn-1", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake after Enqueue")
	}
}

func TestQueue_ExactlyOnceAcrossConsumers(t *testing.T) {
	defer leaktest.Check(t)()

	const (
		items     = 1000
		consumers = 8
	)

	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received []int
		wg       sync.WaitGroup
	)

	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, err := q.Dequeue(ctx)
				if err != nil {
					if !errors.Is(err, ErrClosed) {
						t.Errorf("Dequeue error: %v", err)
					}
					return
				}
				mu.Lock()
				received = append(received, v)
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < items; i++ {
		q.Enqueue(i)
	}
	q.Close()
	wg.Wait()

	if len(received) != items {
		t.Fatalf("received %d items, want %d", len(received), items)
	}
	sort.Ints(received)
	for i, v := range received {
		if v != i {
			t.Fatalf("item %d missing or duplicated (got %d at position %d)", i, v, i)
		}
	}
}

func TestQueue_SingleConsumerOrderUnderConcurrency(t *testing.T) {
	defer leaktest.Check(t)()

	q := New[int]()
	const n = 500
	done := make(chan []int)

	go func() {
		var got []int
		for len(got) < n {
			v, err := q.Dequeue(context.Background())
			if err != nil {
				break
			}
			got = append(got, v)
		}
		done <- got
	}()

	for i := 0; i < n; i++ {
		q.Enqueue(i)
	}

	got := <-done
	for i, v := range got {
		if v != i {
			t.Fatalf("position %d = %d, want FIFO order", i, v)
		}
	}
}

func TestQueue_CloseDrainsPending(t *testing.T) {
	q := New[int]()
	q.Enqueue(1)
	q.Enqueue(2)
	q.Close()

	if err := q.Enqueue(3); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after Close: err = %v, want ErrClosed", err)
	}

	ctx := context.Background()
	for _, want := range []int{1, 2} {
		v, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue error: %v", err)
		}
		if v != want {
			t.Errorf("Dequeue = %d, want %d", v, want)
		}
	}

	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Dequeue on drained closed queue: err = %v, want ErrClosed", err)
	}

	// Close is idempotent.
	q.Close()
}

func TestQueue_CloseWakesWaiters(t *testing.T) {
	defer leaktest.Check(t)()

	q := New[int]()
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := q.Dequeue(context.Background())
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrClosed) {
				t.Errorf("err = %v, want ErrClosed", err)
			}
		case <-time.After(time.Second):
			t.Fatal("waiter not woken by Close")
		}
	}
}

func TestQueue_DequeueContextCancel(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}
