package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/crm_backend/config"
	"github.com/mmdatafocus/crm_backend/utils"
	"github.com/shopspring/decimal"
)

// ForecastSummary is the rollup served to forecast dashboards. Pipeline is a
// probability-weighted sum; BestCase, Commit and Closed are raw sums. Omit
// deals contribute to no bucket and are not counted. CloseDateFrom/To report
// the resolved window: the requested bounds, or for the unwindowed view the
// span of expected close dates actually seen.
type ForecastSummary struct {
	Pipeline      decimal.Decimal `json:"pipeline"`
	BestCase      decimal.Decimal `json:"best_case"`
	Commit        decimal.Decimal `json:"commit"`
	Closed        decimal.Decimal `json:"closed"`
	Total         decimal.Decimal `json:"total"`
	DealCount     int             `json:"deal_count"`
	CloseDateFrom *time.Time      `json:"close_date_from"`
	CloseDateTo   *time.Time      `json:"close_date_to"`
}

// resolveForecastRange fills in whichever window bound the caller left open
// with the min/max expected close date across the population. Pure.
func resolveForecastRange(deals []*Deal, from, to *time.Time) (*time.Time, *time.Time) {
	resolvedFrom, resolvedTo := from, to
	if resolvedFrom != nil && resolvedTo != nil {
		return resolvedFrom, resolvedTo
	}
	for _, deal := range deals {
		d := deal.ExpectedCloseDate
		if d == nil {
			continue
		}
		if from == nil && (resolvedFrom == nil || d.Before(*resolvedFrom)) {
			resolvedFrom = d
		}
		if to == nil && (resolvedTo == nil || d.After(*resolvedTo)) {
			resolvedTo = d
		}
	}
	return resolvedFrom, resolvedTo
}

// BucketForecast folds deals into forecast buckets. Pure; callers pick the
// population (open deals, plus won ones for the Closed bucket).
func BucketForecast(deals []*Deal) ForecastSummary {
	summary := ForecastSummary{
		Pipeline: decimal.Zero,
		BestCase: decimal.Zero,
		Commit:   decimal.Zero,
		Closed:   decimal.Zero,
		Total:    decimal.Zero,
	}
	for _, deal := range deals {
		switch deal.ForecastCategory {
		case ForecastCategoryOmit:
			continue
		case ForecastCategoryPipeline:
			summary.Pipeline = summary.Pipeline.Add(deal.WeightedValue())
		case ForecastCategoryBestCase:
			summary.BestCase = summary.BestCase.Add(deal.Value)
		case ForecastCategoryCommit:
			summary.Commit = summary.Commit.Add(deal.Value)
		case ForecastCategoryClosed:
			if deal.CurrentStatus == DealStatusLost {
				continue
			}
			summary.Closed = summary.Closed.Add(deal.Value)
		default:
			continue
		}
		summary.DealCount++
	}
	summary.Total = summary.Pipeline.Add(summary.BestCase).Add(summary.Commit).Add(summary.Closed)
	return summary
}

type ForecastFilter struct {
	PipelineId    int        `json:"pipeline_id"`
	OwnerId       int        `json:"owner_id"`
	CloseDateFrom *time.Time `json:"close_date_from"`
	CloseDateTo   *time.Time `json:"close_date_to"`
}

// GetForecast aggregates open and won deals into forecast buckets. When a
// close-date window is given, deals without an expected close date fall out
// of the window; the unwindowed view includes them.
func GetForecast(ctx context.Context, filter ForecastFilter) (*ForecastSummary, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Deal{}).
		Where("business_id = ?", businessId).
		Where("current_status IN ?", []DealStatus{DealStatusOpen, DealStatusWon})
	if filter.PipelineId > 0 {
		dbCtx = dbCtx.Where("pipeline_id = ?", filter.PipelineId)
	}
	if filter.OwnerId > 0 {
		dbCtx = dbCtx.Where("owner_id = ?", filter.OwnerId)
	}
	if filter.CloseDateFrom != nil {
		dbCtx = dbCtx.Where("expected_close_date >= ?", filter.CloseDateFrom)
	}
	if filter.CloseDateTo != nil {
		dbCtx = dbCtx.Where("expected_close_date <= ?", filter.CloseDateTo)
	}

	var deals []*Deal
	if err := dbCtx.Find(&deals).Error; err != nil {
		return nil, err
	}

	summary := BucketForecast(deals)
	summary.CloseDateFrom, summary.CloseDateTo = resolveForecastRange(deals, filter.CloseDateFrom, filter.CloseDateTo)
	return &summary, nil
}

// StageColumn is one board column: a stage with its open deals and totals.
type StageColumn struct {
	Stage         *Stage          `json:"stage"`
	Deals         []*Deal         `json:"deals"`
	TotalValue    decimal.Decimal `json:"total_value"`
	WeightedValue decimal.Decimal `json:"weighted_value"`
	DealCount     int             `json:"deal_count"`
}

type PipelineView struct {
	Pipeline *Pipeline      `json:"pipeline"`
	Columns  []*StageColumn `json:"columns"`
}

// GetPipelineView builds the kanban board: every stage of the pipeline in
// order, each carrying its deals with raw and weighted value totals. Won and
// Lost columns list their closed deals and total them like any other column;
// closed probability (100 or 0) keeps their weighted totals honest.
func GetPipelineView(ctx context.Context, pipelineId int) (*PipelineView, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}

	pipeline, err := GetPipeline(ctx, pipelineId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var deals []*Deal
	err = db.WithContext(ctx).
		Where("business_id = ? AND pipeline_id = ?", businessId, pipelineId).
		Order("stage_entered_at ASC, id ASC").
		Find(&deals).Error
	if err != nil {
		return nil, err
	}

	byStage := make(map[int][]*Deal, len(pipeline.Stages))
	for _, deal := range deals {
		byStage[deal.StageId] = append(byStage[deal.StageId], deal)
	}

	view := PipelineView{
		Pipeline: pipeline,
		Columns:  make([]*StageColumn, 0, len(pipeline.Stages)),
	}
	for i := range pipeline.Stages {
		stage := &pipeline.Stages[i]
		column := StageColumn{
			Stage:         stage,
			Deals:         byStage[stage.ID],
			TotalValue:    decimal.Zero,
			WeightedValue: decimal.Zero,
		}
		for _, deal := range column.Deals {
			column.TotalValue = column.TotalValue.Add(deal.Value)
			column.WeightedValue = column.WeightedValue.Add(deal.WeightedValue())
			column.DealCount++
		}
		view.Columns = append(view.Columns, &column)
	}
	return &view, nil
}
