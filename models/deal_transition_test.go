package models

import (
	"testing"
	"time"

	"github.com/mmdatafocus/crm_backend/utils"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the pure
// transition mechanics; persistence and version-conflict behavior need a
// MySQL instance and live in integration environments.

func openDeal(stageId int, stageName string, stageOrder int, enteredAt time.Time) *Deal {
	return &Deal{
		ID:               1,
		BusinessId:       "biz-1",
		PipelineId:       10,
		StageId:          stageId,
		StageName:        stageName,
		StageOrder:       stageOrder,
		Name:             "test deal",
		Value:            decimal.NewFromInt(10000),
		Probability:      decimal.NewFromInt(25),
		ForecastCategory: ForecastCategoryPipeline,
		CurrentStatus:    DealStatusOpen,
		StageEnteredAt:   enteredAt,
		StageHistory:     StageHistoryList{},
		OwnerId:          7,
		Version:          1,
	}
}

func TestApplyStageTransition_AppendsHistoryAndRefreshesSnapshot(t *testing.T) {
	entered := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 11, 15, 0, 0, 0, time.UTC) // 10 days 6 hours later

	deal := openDeal(100, "Discovery", 2, entered)
	target := &Stage{
		ID:               101,
		PipelineId:       10,
		Name:             "Proposal",
		StageOrder:       3,
		StageType:        StageTypeOpen,
		Probability:      decimal.NewFromInt(50),
		ForecastCategory: ForecastCategoryBestCase,
	}

	applyStageTransition(deal, target, now)

	if len(deal.StageHistory) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(deal.StageHistory))
	}
	entry := deal.StageHistory[0]
	if entry.StageId != 100 || entry.StageName != "Discovery" {
		t.Fatalf("history entry records wrong stage: %+v", entry)
	}
	if !entry.EnteredAt.Equal(entered) || !entry.ExitedAt.Equal(now) {
		t.Fatalf("history entry has wrong interval: %+v", entry)
	}
	if entry.DaysInStage != 10 {
		t.Fatalf("days in stage should floor to 10, got %d", entry.DaysInStage)
	}

	if deal.StageId != 101 || deal.StageName != "Proposal" || deal.StageOrder != 3 {
		t.Fatalf("stage snapshot not refreshed: %+v", deal)
	}
	if !deal.Probability.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("probability should reset to stage default, got %s", deal.Probability)
	}
	if deal.ForecastCategory != ForecastCategoryBestCase {
		t.Fatalf("forecast category should follow stage, got %s", deal.ForecastCategory)
	}
	if !deal.StageEnteredAt.Equal(now) {
		t.Fatalf("stage entered at should move to now")
	}
	if deal.LastStageChangeAt == nil || !deal.LastStageChangeAt.Equal(now) {
		t.Fatalf("last stage change at should move to now")
	}
}

func TestApplyStageTransition_SubDayResidencyFloorsToZero(t *testing.T) {
	entered := time.Date(2026, 8, 11, 9, 0, 0, 0, time.UTC)
	now := entered.Add(5 * time.Hour)

	deal := openDeal(100, "Discovery", 2, entered)
	target := &Stage{ID: 101, PipelineId: 10, Name: "Proposal", StageOrder: 3}

	applyStageTransition(deal, target, now)

	if got := deal.StageHistory[0].DaysInStage; got != 0 {
		t.Fatalf("expected 0 days for sub-day residency, got %d", got)
	}
}

func TestApplyStageTransition_HistoryIsAppendOnly(t *testing.T) {
	entered := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	deal := openDeal(100, "Qualification", 1, entered)

	stages := []*Stage{
		{ID: 101, PipelineId: 10, Name: "Discovery", StageOrder: 2},
		{ID: 102, PipelineId: 10, Name: "Proposal", StageOrder: 3},
		{ID: 103, PipelineId: 10, Name: "Negotiation", StageOrder: 4},
	}
	now := entered
	for _, s := range stages {
		now = now.Add(48 * time.Hour)
		applyStageTransition(deal, s, now)
	}

	if len(deal.StageHistory) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(deal.StageHistory))
	}
	names := []string{"Qualification", "Discovery", "Proposal"}
	for i, want := range names {
		if deal.StageHistory[i].StageName != want {
			t.Fatalf("entry %d: want %s, got %s", i, want, deal.StageHistory[i].StageName)
		}
	}
	// the current stage has no entry until the deal exits it
	if deal.StageName != "Negotiation" {
		t.Fatalf("deal should sit in Negotiation, got %s", deal.StageName)
	}
}

func TestApplyWonClosure(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	deal := openDeal(100, "Negotiation", 4, now.Add(-72*time.Hour))

	finalValue := decimal.NewFromInt(12500)
	applyWonClosure(deal, now, &finalValue)

	if deal.CurrentStatus != DealStatusWon {
		t.Fatalf("status should be Won, got %s", deal.CurrentStatus)
	}
	if !deal.Probability.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("won probability should pin to 100, got %s", deal.Probability)
	}
	if deal.ForecastCategory != ForecastCategoryClosed {
		t.Fatalf("won forecast category should be Closed, got %s", deal.ForecastCategory)
	}
	if deal.ActualCloseDate == nil || !deal.ActualCloseDate.Equal(now) {
		t.Fatalf("actual close date not recorded")
	}
	if !deal.Value.Equal(finalValue) {
		t.Fatalf("final value override not applied, got %s", deal.Value)
	}
	if !deal.CurrentStatus.IsTerminal() {
		t.Fatalf("won must be terminal")
	}
}

func TestApplyLostClosure(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	deal := openDeal(100, "Proposal", 3, now.Add(-24*time.Hour))

	applyLostClosure(deal, now, "price", "chose a cheaper vendor", "CompetitorCo")

	if deal.CurrentStatus != DealStatusLost {
		t.Fatalf("status should be Lost, got %s", deal.CurrentStatus)
	}
	if !deal.Probability.IsZero() {
		t.Fatalf("lost probability should be 0, got %s", deal.Probability)
	}
	if deal.ForecastCategory != ForecastCategoryClosed {
		t.Fatalf("lost forecast category should be Closed, got %s", deal.ForecastCategory)
	}
	if deal.LossReason != "price" || deal.CompetitorName != "CompetitorCo" {
		t.Fatalf("loss attribution not recorded: %+v", deal)
	}
	if !deal.CurrentStatus.IsTerminal() {
		t.Fatalf("lost must be terminal")
	}
}

func TestWeightedValue(t *testing.T) {
	deal := &Deal{
		Value:       decimal.NewFromInt(10000),
		Probability: decimal.NewFromInt(25),
	}
	if got := deal.WeightedValue(); !got.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("weighted value: want 2500, got %s", got)
	}

	deal.Probability = decimal.Zero
	if got := deal.WeightedValue(); !got.IsZero() {
		t.Fatalf("zero probability should weight to zero, got %s", got)
	}
}

func TestGuardTerminalClosure_RepeatClosureIsNoOp(t *testing.T) {
	for _, status := range []DealStatus{DealStatusWon, DealStatusLost} {
		alreadyClosed, err := guardTerminalClosure(status, status)
		if err != nil {
			t.Fatalf("%s: repeat closure must not error, got %v", status, err)
		}
		if !alreadyClosed {
			t.Fatalf("%s: repeat closure must report already closed", status)
		}
	}
}

func TestGuardTerminalClosure_OppositeClosureRejected(t *testing.T) {
	cases := []struct {
		current   DealStatus
		requested DealStatus
	}{
		{DealStatusWon, DealStatusLost},
		{DealStatusLost, DealStatusWon},
	}
	for _, c := range cases {
		alreadyClosed, err := guardTerminalClosure(c.current, c.requested)
		if err == nil {
			t.Fatalf("%s -> %s: closed deals must stay closed", c.current, c.requested)
		}
		if !utils.IsValidationError(err) {
			t.Fatalf("%s -> %s: want a validation error, got %v", c.current, c.requested, err)
		}
		if alreadyClosed {
			t.Fatalf("%s -> %s: rejection must not report already closed", c.current, c.requested)
		}
	}
}

func TestGuardTerminalClosure_NonTerminalProceeds(t *testing.T) {
	for _, status := range []DealStatus{DealStatusOpen, DealStatusOnHold, DealStatusAbandoned} {
		for _, requested := range []DealStatus{DealStatusWon, DealStatusLost} {
			alreadyClosed, err := guardTerminalClosure(status, requested)
			if err != nil || alreadyClosed {
				t.Fatalf("%s -> %s: closure must proceed, got alreadyClosed=%v err=%v",
					status, requested, alreadyClosed, err)
			}
		}
	}
}

func TestDealStatusTerminality(t *testing.T) {
	terminal := map[DealStatus]bool{
		DealStatusOpen:      false,
		DealStatusWon:       true,
		DealStatusLost:      true,
		DealStatusOnHold:    false,
		DealStatusAbandoned: false,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s: IsTerminal want %v, got %v", status, want, got)
		}
	}
}
