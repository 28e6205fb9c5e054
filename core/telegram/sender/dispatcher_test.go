package sender

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func TestKeyedJobsRunInOrder(t *testing.T) {
	d := NewDispatcher(Options{Workers: 4, QueueSize: 64})
	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 20; i++ {
		i := i
		if err := d.EnqueueKeyed(context.Background(), 42, "send", "sendMessage", func() error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	d.Close()
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
	if len(got) != 20 {
		t.Fatalf("ran %d jobs", len(got))
	}
}

func TestNegativeKeysAreSharded(t *testing.T) {
	d := NewDispatcher(Options{Workers: 3})
	done := make(chan struct{})
	if err := d.EnqueueKeyed(context.Background(), -100500, "send", "", func() error {
		close(done)
		return nil
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-done
	d.Close()
}

func TestRetriesTransientErrors(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond})
	attempts := 0
	_ = d.Enqueue(context.Background(), "send", "", func() error {
		attempts++
		if attempts < 3 {
			return &net.OpError{Op: "dial", Err: errors.New("refused")}
		}
		return nil
	})
	d.Close()
	if attempts != 3 || d.ErrorCount() != 0 {
		t.Fatalf("attempts = %d, errors = %d", attempts, d.ErrorCount())
	}
}

func TestPermanentErrorsCount(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 3, RetryBackoff: time.Millisecond})
	attempts := 0
	_ = d.Enqueue(context.Background(), "send", "", func() error {
		attempts++
		return errors.New("Forbidden: bot was blocked by the user (403)")
	})
	d.Close()
	if attempts != 1 || d.ErrorCount() != 1 {
		t.Fatalf("attempts = %d, errors = %d", attempts, d.ErrorCount())
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	d := NewDispatcher(Options{})
	d.Close()
	if err := d.Enqueue(context.Background(), "send", "", func() error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v", err)
	}
	if err := d.Enqueue(context.Background(), "send", "", nil); err == nil {
		t.Fatal("expected nil run error")
	}
}

func TestQueueFull(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	started := make(chan struct{})
	_ = d.EnqueueKeyed(context.Background(), 1, "send", "", func() error {
		close(started)
		<-block
		return nil
	})
	<-started
	_ = d.EnqueueKeyed(context.Background(), 1, "send", "", func() error { return nil })
	err := d.EnqueueKeyed(context.Background(), 1, "send", "", func() error { return nil })
	close(block)
	d.Close()
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v", err)
	}
}

func TestClassifyAndSanitize(t *testing.T) {
	if got := classifyError(context.DeadlineExceeded); got != "timeout" {
		t.Fatalf("deadline kind = %q", got)
	}
	if got := classifyError(&tele.Error{Code: 502}); got != "http_5xx" {
		t.Fatalf("502 kind = %q", got)
	}
	if got := classifyError(errors.New("Bad Request: chat not found (400)")); got != "http_4xx" {
		t.Fatalf("400 kind = %q", got)
	}
	msg := sanitizeErrorMessage(errors.New("Post https://api.telegram.org/bot123:ABC-def/sendMessage failed"))
	if msg != "Post https://api.telegram.org/bot<redacted>/sendMessage failed" {
		t.Fatalf("sanitized = %q", msg)
	}
}
