package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func forecastDeal(value int64, probability int64, category ForecastCategory, status DealStatus) *Deal {
	return &Deal{
		Value:            decimal.NewFromInt(value),
		Probability:      decimal.NewFromInt(probability),
		ForecastCategory: category,
		CurrentStatus:    status,
	}
}

func TestBucketForecast_CategoryArithmetic(t *testing.T) {
	deals := []*Deal{
		forecastDeal(10000, 25, ForecastCategoryPipeline, DealStatusOpen), // weighted 2500
		forecastDeal(4000, 50, ForecastCategoryPipeline, DealStatusOpen),  // weighted 2000
		forecastDeal(6000, 60, ForecastCategoryBestCase, DealStatusOpen),  // raw
		forecastDeal(8000, 75, ForecastCategoryCommit, DealStatusOpen),    // raw
		forecastDeal(12000, 100, ForecastCategoryClosed, DealStatusWon),   // raw
	}

	summary := BucketForecast(deals)

	if !summary.Pipeline.Equal(decimal.NewFromInt(4500)) {
		t.Fatalf("pipeline bucket: want 4500, got %s", summary.Pipeline)
	}
	if !summary.BestCase.Equal(decimal.NewFromInt(6000)) {
		t.Fatalf("best case bucket: want raw 6000, got %s", summary.BestCase)
	}
	if !summary.Commit.Equal(decimal.NewFromInt(8000)) {
		t.Fatalf("commit bucket: want raw 8000, got %s", summary.Commit)
	}
	if !summary.Closed.Equal(decimal.NewFromInt(12000)) {
		t.Fatalf("closed bucket: want 12000, got %s", summary.Closed)
	}
	if summary.DealCount != 5 {
		t.Fatalf("deal count: want 5, got %d", summary.DealCount)
	}

	wantTotal := summary.Pipeline.Add(summary.BestCase).Add(summary.Commit).Add(summary.Closed)
	if !summary.Total.Equal(wantTotal) {
		t.Fatalf("total must equal sum of buckets: want %s, got %s", wantTotal, summary.Total)
	}
}

func TestBucketForecast_OmitContributesNothing(t *testing.T) {
	deals := []*Deal{
		forecastDeal(100000, 90, ForecastCategoryOmit, DealStatusOpen),
		forecastDeal(5000, 50, ForecastCategoryPipeline, DealStatusOpen),
	}

	summary := BucketForecast(deals)

	if summary.DealCount != 1 {
		t.Fatalf("omit deals must not be counted: got %d", summary.DealCount)
	}
	if !summary.Total.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("omit deals must not contribute value: got %s", summary.Total)
	}
}

func TestBucketForecast_LostDealsExcludedFromClosed(t *testing.T) {
	deals := []*Deal{
		forecastDeal(9000, 0, ForecastCategoryClosed, DealStatusLost),
		forecastDeal(3000, 100, ForecastCategoryClosed, DealStatusWon),
	}

	summary := BucketForecast(deals)

	if !summary.Closed.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("closed bucket should hold won value only: got %s", summary.Closed)
	}
	if summary.DealCount != 1 {
		t.Fatalf("lost deals must not be counted: got %d", summary.DealCount)
	}
}

func TestBucketForecast_Empty(t *testing.T) {
	summary := BucketForecast(nil)
	if summary.DealCount != 0 || !summary.Total.IsZero() {
		t.Fatalf("empty population should produce a zero summary: %+v", summary)
	}
}

func TestResolveForecastRange_EchoesRequestedWindow(t *testing.T) {
	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
	outside := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	deal := forecastDeal(1000, 50, ForecastCategoryPipeline, DealStatusOpen)
	deal.ExpectedCloseDate = &outside

	gotFrom, gotTo := resolveForecastRange([]*Deal{deal}, &from, &to)
	if gotFrom == nil || !gotFrom.Equal(from) || gotTo == nil || !gotTo.Equal(to) {
		t.Fatalf("requested window must be echoed untouched: got %v..%v", gotFrom, gotTo)
	}
}

func TestResolveForecastRange_UnwindowedSpansCloseDates(t *testing.T) {
	early := time.Date(2026, 9, 5, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC)

	first := forecastDeal(1000, 50, ForecastCategoryPipeline, DealStatusOpen)
	first.ExpectedCloseDate = &late
	second := forecastDeal(2000, 50, ForecastCategoryPipeline, DealStatusOpen)
	second.ExpectedCloseDate = &early
	third := forecastDeal(3000, 50, ForecastCategoryPipeline, DealStatusOpen) // no close date

	gotFrom, gotTo := resolveForecastRange([]*Deal{first, second, third}, nil, nil)
	if gotFrom == nil || !gotFrom.Equal(early) {
		t.Fatalf("range start should be the earliest close date, got %v", gotFrom)
	}
	if gotTo == nil || !gotTo.Equal(late) {
		t.Fatalf("range end should be the latest close date, got %v", gotTo)
	}
}

func TestResolveForecastRange_NoCloseDatesStaysOpenEnded(t *testing.T) {
	deals := []*Deal{forecastDeal(1000, 50, ForecastCategoryPipeline, DealStatusOpen)}
	gotFrom, gotTo := resolveForecastRange(deals, nil, nil)
	if gotFrom != nil || gotTo != nil {
		t.Fatalf("no close dates should leave the range open: %v..%v", gotFrom, gotTo)
	}
}
