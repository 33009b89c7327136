package models

import (
	"testing"
	"time"

	"github.com/mmdatafocus/crm_backend/utils"
)

func staleFixture(daysAgo int, status DealStatus) *Deal {
	entered := time.Now().UTC().AddDate(0, 0, -daysAgo)
	return &Deal{
		ID:             1,
		CurrentStatus:  status,
		StageEnteredAt: entered,
		OwnerId:        3,
	}
}

func trackedPipeline(warningDays, criticalDays int) *Pipeline {
	return &Pipeline{
		ID:                10,
		StalenessEnabled:  utils.NewTrue(),
		StaleWarningDays:  warningDays,
		StaleCriticalDays: criticalDays,
	}
}

func TestIsDealStale_ThresholdPrecedence(t *testing.T) {
	now := time.Now().UTC()
	pipeline := trackedPipeline(30, 60)
	rotting := 10
	stage := &Stage{ID: 100, RottingDays: &rotting}

	deal := staleFixture(15, DealStatusOpen)

	// stage rotting days (10) beat the pipeline default (30)
	if ok, entry := IsDealStale(deal, stage, pipeline, now, 0); !ok {
		t.Fatal("15 days should be stale against stage threshold 10")
	} else if entry.Threshold != 10 {
		t.Fatalf("threshold should come from stage, got %d", entry.Threshold)
	}

	// caller override (20) beats the stage
	if ok, _ := IsDealStale(deal, stage, pipeline, now, 20); ok {
		t.Fatal("15 days should not be stale against override threshold 20")
	}

	// no stage threshold falls back to the pipeline default
	bare := &Stage{ID: 100}
	if ok, _ := IsDealStale(deal, bare, pipeline, now, 0); ok {
		t.Fatal("15 days should not be stale against pipeline default 30")
	}
	old := staleFixture(45, DealStatusOpen)
	if ok, entry := IsDealStale(old, bare, pipeline, now, 0); !ok {
		t.Fatal("45 days should be stale against pipeline default 30")
	} else if entry.Threshold != 30 {
		t.Fatalf("threshold should come from pipeline, got %d", entry.Threshold)
	}
}

func TestIsDealStale_ExactThresholdIsNotStale(t *testing.T) {
	now := time.Now().UTC()
	pipeline := trackedPipeline(30, 60)
	deal := staleFixture(30, DealStatusOpen)

	if ok, _ := IsDealStale(deal, nil, pipeline, now, 0); ok {
		t.Fatal("a deal exactly at the threshold is not yet stale")
	}
}

func TestIsDealStale_OnlyOpenDealsRot(t *testing.T) {
	now := time.Now().UTC()
	pipeline := trackedPipeline(30, 60)

	for _, status := range []DealStatus{DealStatusWon, DealStatusLost, DealStatusOnHold, DealStatusAbandoned} {
		deal := staleFixture(365, status)
		if ok, _ := IsDealStale(deal, nil, pipeline, now, 0); ok {
			t.Fatalf("%s deals must never be stale", status)
		}
	}
}

func TestIsDealStale_DisabledPipeline(t *testing.T) {
	now := time.Now().UTC()
	pipeline := trackedPipeline(30, 60)
	pipeline.StalenessEnabled = utils.NewFalse()

	deal := staleFixture(365, DealStatusOpen)
	if ok, _ := IsDealStale(deal, nil, pipeline, now, 0); ok {
		t.Fatal("staleness tracking is off for this pipeline")
	}
}

func TestIsDealStale_CriticalLevel(t *testing.T) {
	now := time.Now().UTC()
	pipeline := trackedPipeline(30, 60)

	warning := staleFixture(45, DealStatusOpen)
	if ok, entry := IsDealStale(warning, nil, pipeline, now, 0); !ok || entry.Level != StaleLevelWarning {
		t.Fatalf("45 days should be Warning, got %+v", entry)
	}

	critical := staleFixture(90, DealStatusOpen)
	if ok, entry := IsDealStale(critical, nil, pipeline, now, 0); !ok || entry.Level != StaleLevelCritical {
		t.Fatalf("90 days should be Critical, got %+v", entry)
	}
}
