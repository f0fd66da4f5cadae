package registry

import (
	"errors"
	"sync"
	"testing"
)

func TestCreateConflictsOnRunningDuplicate(t *testing.T) {
	r := New()
	key := Key{Kind: KindTWAP, Name: "btc-entry"}

	if _, err := r.Create(key, "BTCUSDT", nil); err != nil {
		t.Fatalf("first Create returned error: %v", err)
	}

	_, err := r.Create(key, "BTCUSDT", nil)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
	if conflict.Key != key {
		t.Fatalf("conflict key=%v, expected %v", conflict.Key, key)
	}
}

func TestCreateReplacesTerminalRecord(t *testing.T) {
	r := New()
	key := Key{Kind: KindGrid, Name: "eth-grid"}

	if _, err := r.Create(key, "ETHUSDT", nil); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := r.Update(key, func(j *Job) { j.Status = StatusStopped }); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	job, err := r.Create(key, "ETHUSDT", map[string]any{"levels": 5})
	if err != nil {
		t.Fatalf("Create over terminal record returned error: %v", err)
	}
	if job.Status != StatusPending {
		t.Fatalf("Status=%s, expected %s", job.Status, StatusPending)
	}
}

func TestUpdateAndGet(t *testing.T) {
	r := New()
	key := Key{Kind: KindOCO, Name: "btc-exit"}
	if _, err := r.Create(key, "BTCUSDT", nil); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	err := r.Update(key, func(j *Job) {
		j.Status = StatusRunning
		j.LastAction = "legs placed"
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	job, err := r.Get(key)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Status != StatusRunning {
		t.Fatalf("Status=%s, expected %s", job.Status, StatusRunning)
	}
	if job.LastAction != "legs placed" {
		t.Fatalf("LastAction=%q, expected %q", job.LastAction, "legs placed")
	}
	if !job.UpdatedAt.After(job.CreatedAt) && !job.UpdatedAt.Equal(job.CreatedAt) {
		t.Fatalf("UpdatedAt %v before CreatedAt %v", job.UpdatedAt, job.CreatedAt)
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	r := New()
	key := Key{Kind: KindTWAP, Name: "snap"}
	if _, err := r.Create(key, "BTCUSDT", nil); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	job, _ := r.Get(key)
	job.Status = StatusFailed // must not leak into the registry

	stored, _ := r.Get(key)
	if stored.Status != StatusPending {
		t.Fatalf("Status=%s, expected %s (snapshot mutated store)", stored.Status, StatusPending)
	}
}

func TestUnknownKey(t *testing.T) {
	r := New()
	key := Key{Kind: KindStrategy, Name: "ghost"}

	var notFound *NotFoundError
	if _, err := r.Get(key); !errors.As(err, &notFound) {
		t.Fatalf("Get: expected *NotFoundError, got %v", err)
	}
	if err := r.Update(key, func(j *Job) {}); !errors.As(err, &notFound) {
		t.Fatalf("Update: expected *NotFoundError, got %v", err)
	}
}

func TestListFiltersByKind(t *testing.T) {
	r := New()
	r.Create(Key{Kind: KindTWAP, Name: "a"}, "BTCUSDT", nil)
	r.Create(Key{Kind: KindGrid, Name: "b"}, "ETHUSDT", nil)
	r.Create(Key{Kind: KindTWAP, Name: "c"}, "BTCUSDT", nil)

	if got := len(r.List("")); got != 3 {
		t.Fatalf("List all=%d, expected 3", got)
	}
	twaps := r.List(KindTWAP)
	if len(twaps) != 2 {
		t.Fatalf("List twap=%d, expected 2", len(twaps))
	}
	for _, j := range twaps {
		if j.Key.Kind != KindTWAP {
			t.Fatalf("List returned kind %s", j.Key.Kind)
		}
	}
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	r := New()
	key := Key{Kind: KindTWAP, Name: "race"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Create(key, "BTCUSDT", nil); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("created=%d, expected exactly 1", created)
	}
}
