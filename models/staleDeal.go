package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/crm_backend/config"
	"github.com/mmdatafocus/crm_backend/utils"
)

type StaleLevel string

const (
	StaleLevelWarning  StaleLevel = "Warning"
	StaleLevelCritical StaleLevel = "Critical"
)

// StaleDeal annotates a deal with how long it has sat in its current stage.
type StaleDeal struct {
	Deal        *Deal      `json:"deal"`
	DaysInStage int        `json:"days_in_stage"`
	Threshold   int        `json:"threshold"`
	Level       StaleLevel `json:"level"`
}

// staleThreshold resolves the effective warning threshold in days. Precedence:
// caller override, then the stage's rotting days, then the pipeline default.
func staleThreshold(stage *Stage, pipeline *Pipeline, overrideDays int) int {
	if overrideDays > 0 {
		return overrideDays
	}
	if stage != nil && stage.RottingDays != nil && *stage.RottingDays > 0 {
		return *stage.RottingDays
	}
	return pipeline.StaleWarningDays
}

// IsDealStale reports whether an open deal has overstayed its stage. Pure;
// terminal and on-hold deals never rot, nor do deals in pipelines with
// staleness tracking switched off.
func IsDealStale(deal *Deal, stage *Stage, pipeline *Pipeline, now time.Time, overrideDays int) (bool, *StaleDeal) {
	if deal.CurrentStatus != DealStatusOpen {
		return false, nil
	}
	if !utils.DereferencePtr(pipeline.StalenessEnabled, true) {
		return false, nil
	}

	threshold := staleThreshold(stage, pipeline, overrideDays)
	if threshold <= 0 {
		return false, nil
	}

	days := int(now.Sub(deal.StageEnteredAt).Hours() / 24)
	if days <= threshold {
		return false, nil
	}

	level := StaleLevelWarning
	if pipeline.StaleCriticalDays > 0 && days > pipeline.StaleCriticalDays {
		level = StaleLevelCritical
	}
	return true, &StaleDeal{
		Deal:        deal,
		DaysInStage: days,
		Threshold:   threshold,
		Level:       level,
	}
}

type StaleDealFilter struct {
	PipelineId   int `json:"pipeline_id"`
	OwnerId      int `json:"owner_id"`
	OverrideDays int `json:"override_days"`
}

// GetStaleDeals scans open deals for staleness, oldest stage residency first.
func GetStaleDeals(ctx context.Context, filter StaleDealFilter) ([]*StaleDeal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}
	return GetStaleDealsForBusiness(ctx, businessId, filter)
}

// GetStaleDealsForBusiness is the tenant-explicit form used by the background
// sweep, which iterates tenants outside a request context.
func GetStaleDealsForBusiness(ctx context.Context, businessId string, filter StaleDealFilter) ([]*StaleDeal, error) {
	db := config.GetDB()

	pipelineQuery := db.WithContext(ctx).Where("business_id = ?", businessId)
	if filter.PipelineId > 0 {
		pipelineQuery = pipelineQuery.Where("id = ?", filter.PipelineId)
	}
	var pipelines []*Pipeline
	if err := pipelineQuery.Find(&pipelines).Error; err != nil {
		return nil, err
	}

	stagesById := make(map[int]*Stage)
	pipelinesById := make(map[int]*Pipeline, len(pipelines))
	pipelineIds := make([]int, 0, len(pipelines))
	for _, p := range pipelines {
		pipelinesById[p.ID] = p
		pipelineIds = append(pipelineIds, p.ID)
	}
	if len(pipelineIds) == 0 {
		return []*StaleDeal{}, nil
	}

	var stages []*Stage
	err := db.WithContext(ctx).
		Where("business_id = ? AND pipeline_id IN ?", businessId, pipelineIds).
		Find(&stages).Error
	if err != nil {
		return nil, err
	}
	for _, s := range stages {
		stagesById[s.ID] = s
	}

	dealQuery := db.WithContext(ctx).
		Where("business_id = ? AND current_status = ?", businessId, DealStatusOpen).
		Where("pipeline_id IN ?", pipelineIds).
		Order("stage_entered_at ASC")
	if filter.OwnerId > 0 {
		dealQuery = dealQuery.Where("owner_id = ?", filter.OwnerId)
	}
	var deals []*Deal
	if err := dealQuery.Find(&deals).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stale := make([]*StaleDeal, 0)
	for _, deal := range deals {
		pipeline := pipelinesById[deal.PipelineId]
		if pipeline == nil {
			continue
		}
		if ok, entry := IsDealStale(deal, stagesById[deal.StageId], pipeline, now, filter.OverrideDays); ok {
			stale = append(stale, entry)
		}
	}
	return stale, nil
}
