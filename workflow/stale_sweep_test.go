package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/crm_backend/models"
)

// NOTE: These tests are intentionally DB-free. They validate the sweep's
// aggregation and overlap semantics; a full sweep against MySQL belongs in an
// integration environment.

func staleEntry(dealId, ownerId int) *models.StaleDeal {
	return &models.StaleDeal{
		Deal:        &models.Deal{ID: dealId, OwnerId: ownerId},
		DaysInStage: 40,
		Threshold:   30,
		Level:       models.StaleLevelWarning,
	}
}

func TestGroupStaleDealsByOwner(t *testing.T) {
	stale := []*models.StaleDeal{
		staleEntry(1, 7),
		staleEntry(2, 7),
		staleEntry(3, 9),
		staleEntry(4, 7),
	}

	byOwner := GroupStaleDealsByOwner(stale)

	if len(byOwner) != 2 {
		t.Fatalf("expected 2 owners, got %d", len(byOwner))
	}
	if len(byOwner[7]) != 3 {
		t.Fatalf("owner 7 should hold 3 stale deals, got %d", len(byOwner[7]))
	}
	if len(byOwner[9]) != 1 {
		t.Fatalf("owner 9 should hold 1 stale deal, got %d", len(byOwner[9]))
	}
	// each owner gets exactly one notification no matter how many deals rot
	total := 0
	for _, deals := range byOwner {
		total += len(deals)
	}
	if total != len(stale) {
		t.Fatalf("grouping must not drop deals: want %d, got %d", len(stale), total)
	}
}

func TestGroupStaleDealsByOwner_SkipsNilEntries(t *testing.T) {
	stale := []*models.StaleDeal{
		nil,
		{Deal: nil},
		staleEntry(1, 5),
	}
	byOwner := GroupStaleDealsByOwner(stale)
	if len(byOwner) != 1 || len(byOwner[5]) != 1 {
		t.Fatalf("nil entries must be skipped: %+v", byOwner)
	}
}

func TestSweepOnce_RunningGuardPreventsOverlap(t *testing.T) {
	s := &StaleDealSweeper{Interval: time.Minute}

	// simulate a sweep still in flight
	atomic.StoreInt32(&s.running, 1)

	done := make(chan struct{})
	go func() {
		s.SweepOnce(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SweepOnce must return immediately while another sweep runs")
	}
	if atomic.LoadInt32(&s.running) != 1 {
		t.Fatal("an overlapping call must not clear the running flag")
	}
}

func TestSweepOnce_ConcurrentCallsDoNotPanic(t *testing.T) {
	s := &StaleDealSweeper{Interval: time.Minute}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// no DB configured: each call is a no-op, and at most one call at
			// a time gets past the guard
			s.SweepOnce(context.Background())
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&s.running) != 0 {
		t.Fatal("running flag must be clear after all sweeps return")
	}
}
