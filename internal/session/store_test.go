package session

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/icheftech/fredrick-ai/internal/config"
	"github.com/icheftech/fredrick-ai/internal/fault"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(config.SessionConfig{
		MaxHistoryTurns: 40,
		IdleTimeoutMS:   60000,
		SweepIntervalMS: 1000,
	}, newLogger())
}

func TestCreateAndGet(t *testing.T) {
	s := newStore(t)

	sess := s.Create()
	if sess.ID == "" {
		t.Fatal("expected non-empty session id")
	}

	got, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Busy {
		t.Fatal("fresh session should not be busy")
	}

	if _, err := s.Get("nope"); fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("expected not_found for unknown id, got %v", err)
	}
}

func TestTryAcquireExactlyOneWinner(t *testing.T) {
	s := newStore(t)
	sess := s.Create()

	const contenders = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryAcquire(sess.ID)
			if err != nil {
				t.Errorf("try acquire: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	got, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Busy {
		t.Fatal("session should be busy after acquire")
	}
}

func TestAcquireAfterReleaseSucceeds(t *testing.T) {
	s := newStore(t)
	sess := s.Create()

	if ok, _ := s.TryAcquire(sess.ID); !ok {
		t.Fatal("first acquire should win")
	}
	if ok, _ := s.TryAcquire(sess.ID); ok {
		t.Fatal("second acquire should lose while busy")
	}
	s.Release(sess.ID)
	if ok, _ := s.TryAcquire(sess.ID); !ok {
		t.Fatal("acquire after release should win")
	}
}

func TestAppendRequiresLock(t *testing.T) {
	s := newStore(t)
	sess := s.Create()

	err := s.AppendExchange(sess.ID, Turn{Content: "hi"}, Turn{Content: "hello"})
	if fault.KindOf(err) != fault.KindInternal {
		t.Fatalf("append without lock should be internal error, got %v", err)
	}

	if ok, _ := s.TryAcquire(sess.ID); !ok {
		t.Fatal("acquire failed")
	}
	if err := s.AppendExchange(sess.ID, Turn{Content: "hi", Status: "completed"}, Turn{Content: "hello", Status: "completed"}); err != nil {
		t.Fatalf("append with lock: %v", err)
	}

	history, err := s.History(sess.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(history))
	}
	if history[0].Role != RoleUser || history[1].Role != RoleAssistant {
		t.Fatalf("roles wrong: %s then %s", history[0].Role, history[1].Role)
	}
}

func TestHistoryIsACopy(t *testing.T) {
	s := newStore(t)
	sess := s.Create()
	s.TryAcquire(sess.ID)
	s.AppendExchange(sess.ID, Turn{Content: "a"}, Turn{Content: "b"})

	h1, _ := s.History(sess.ID)
	h1[0].Content = "mutated"

	h2, _ := s.History(sess.ID)
	if h2[0].Content != "a" {
		t.Fatal("history should not share backing storage with callers")
	}
}

func TestHistoryCapDropsOldestPair(t *testing.T) {
	s := NewStore(config.SessionConfig{MaxHistoryTurns: 4, IdleTimeoutMS: 60000, SweepIntervalMS: 1000}, newLogger())
	sess := s.Create()
	s.TryAcquire(sess.ID)

	for i, msg := range []string{"one", "two", "three"} {
		if err := s.AppendExchange(sess.ID, Turn{Content: msg}, Turn{Content: "reply"}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	history, _ := s.History(sess.ID)
	if len(history) != 4 {
		t.Fatalf("expected capped history of 4, got %d", len(history))
	}
	if history[0].Content != "two" {
		t.Fatalf("expected oldest pair dropped, first turn is %q", history[0].Content)
	}
}

func TestCloseRefusesBusySession(t *testing.T) {
	s := newStore(t)
	sess := s.Create()
	s.TryAcquire(sess.ID)

	if err := s.Close(sess.ID); fault.KindOf(err) != fault.KindSessionBusy {
		t.Fatalf("close of busy session should report session_busy, got %v", err)
	}

	s.Release(sess.ID)
	if err := s.Close(sess.ID); err != nil {
		t.Fatalf("close after release: %v", err)
	}
	if _, err := s.Get(sess.ID); fault.KindOf(err) != fault.KindNotFound {
		t.Fatal("closed session should be gone")
	}
}

func TestEvictIdleSkipsBusy(t *testing.T) {
	s := newStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return base }

	idle := s.Create()
	busy := s.Create()
	if ok, _ := s.TryAcquire(busy.ID); !ok {
		t.Fatal("acquire failed")
	}

	s.clock = func() time.Time { return base.Add(10 * time.Minute) }
	if n := s.EvictIdle(5 * time.Minute); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, err := s.Get(idle.ID); fault.KindOf(err) != fault.KindNotFound {
		t.Fatal("idle session should be evicted")
	}
	if _, err := s.Get(busy.ID); err != nil {
		t.Fatalf("busy session must survive eviction: %v", err)
	}

	// Once the turn ends the session becomes collectable on a later sweep.
	s.Release(busy.ID)
	s.clock = func() time.Time { return base.Add(30 * time.Minute) }
	if n := s.EvictIdle(5 * time.Minute); n != 1 {
		t.Fatalf("expected released session evicted, got %d", n)
	}
}

func TestReleaseUnknownSessionIsSafe(t *testing.T) {
	s := newStore(t)
	s.Release("ghost")
}
