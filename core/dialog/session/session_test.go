package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m3rciful/flowbot/core/dialog"
)

func TestMemoryStoreCopiesSessions(t *testing.T) {
	st := NewMemoryStore()
	s := dialog.NewSession(1)
	s.Data["name"] = "Anna"
	st.Put(s)
	s.Data["name"] = "changed"

	got, ok := st.Get(1)
	if !ok || got.Data["name"] != "Anna" {
		t.Fatalf("get = %+v, %v", got, ok)
	}
	got.Data["name"] = "again"
	again, _ := st.Get(1)
	if again.Data["name"] != "Anna" {
		t.Fatal("get returned an aliased map")
	}

	st.Delete(1)
	if _, ok := st.Get(1); ok || st.Len() != 0 {
		t.Fatal("session not deleted")
	}
}

func TestSerializerOneHolderPerClient(t *testing.T) {
	s := NewSerializer()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := s.Lock(context.Background(), 42)
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("max concurrent holders = %d", maxInside)
	}
	if s.Active() != 0 {
		t.Fatalf("locks leaked: %d", s.Active())
	}
}

func TestSerializerDifferentClientsRunInParallel(t *testing.T) {
	s := NewSerializer()
	unlockA, err := s.Lock(context.Background(), 1)
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := s.Lock(ctx, 2)
	if err != nil {
		t.Fatalf("client 2 blocked by client 1: %v", err)
	}
	unlockB()
}

func TestSerializerHonoursContext(t *testing.T) {
	s := NewSerializer()
	unlock, _ := s.Lock(context.Background(), 7)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Lock(ctx, 7); err == nil {
		t.Fatal("expected context error while lock is held")
	}
	unlock()
	unlock()
	if s.Active() != 0 {
		t.Fatalf("locks leaked: %d", s.Active())
	}
}
