package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/crm_backend/config"
	"github.com/mmdatafocus/crm_backend/utils"
	"github.com/shopspring/decimal"
)

// Stage belongs to exactly one pipeline; its pipeline reference is immutable
// after creation (reassignment would orphan deal history semantics).
type Stage struct {
	ID               int              `gorm:"primary_key" json:"id"`
	BusinessId       string           `gorm:"index;not null" json:"business_id" binding:"required"`
	PipelineId       int              `gorm:"index;not null" json:"pipeline_id" binding:"required"`
	Name             string           `gorm:"size:100;not null" json:"name" binding:"required"`
	StageOrder       int              `gorm:"not null" json:"stage_order"`
	StageType        StageType        `gorm:"type:enum('Open','Won','Lost');not null;default:'Open'" json:"stage_type"`
	Probability      decimal.Decimal  `gorm:"type:decimal(5,2);default:0" json:"probability"`
	RottingDays      *int             `json:"rotting_days"`
	ForecastCategory ForecastCategory `gorm:"type:enum('Omit','Pipeline','BestCase','Commit','Closed');not null;default:'Pipeline'" json:"forecast_category"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewStage struct {
	PipelineId       int              `json:"pipeline_id" binding:"required"`
	Name             string           `json:"name" binding:"required"`
	StageOrder       int              `json:"stage_order" binding:"required"`
	StageType        StageType        `json:"stage_type"`
	Probability      decimal.Decimal  `json:"probability"`
	RottingDays      *int             `json:"rotting_days"`
	ForecastCategory ForecastCategory `json:"forecast_category"`
}

func (s Stage) GetCursor() string {
	return s.CreatedAt.String()
}

func (s Stage) GetId() int {
	return s.ID
}

var probabilityHundred = decimal.NewFromInt(100)

func (input *NewStage) validate(ctx context.Context, businessId string) error {
	if input.Name == "" {
		return utils.Validationf("stage name is required")
	}
	if err := utils.ValidateResourceId[Pipeline](ctx, businessId, input.PipelineId); err != nil {
		return err
	}
	if input.StageType != "" && !input.StageType.Valid() {
		return utils.Validationf("invalid stage type %q", input.StageType)
	}
	if input.ForecastCategory != "" && !input.ForecastCategory.Valid() {
		return utils.Validationf("invalid forecast category %q", input.ForecastCategory)
	}
	if input.Probability.IsNegative() || input.Probability.GreaterThan(probabilityHundred) {
		return utils.Validationf("probability must be between 0 and 100")
	}
	if input.RottingDays != nil && *input.RottingDays < 0 {
		return utils.Validationf("rotting days cannot be negative")
	}
	// stage_order is unique within a pipeline
	count, err := utils.ResourceCountWhere[Stage](ctx, businessId,
		"pipeline_id = ? AND stage_order = ?", input.PipelineId, input.StageOrder)
	if err != nil {
		return err
	}
	if count > 0 {
		return utils.Validationf("stage order %d already exists in pipeline", input.StageOrder)
	}
	return nil
}

func CreateStage(ctx context.Context, input *NewStage) (*Stage, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}

	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	stageType := input.StageType
	if stageType == "" {
		stageType = StageTypeOpen
	}
	forecastCategory := input.ForecastCategory
	if forecastCategory == "" {
		forecastCategory = defaultForecastCategory(stageType)
	}

	stage := Stage{
		BusinessId:       businessId,
		PipelineId:       input.PipelineId,
		Name:             input.Name,
		StageOrder:       input.StageOrder,
		StageType:        stageType,
		Probability:      input.Probability,
		RottingDays:      input.RottingDays,
		ForecastCategory: forecastCategory,
	}

	if err := db.WithContext(ctx).Create(&stage).Error; err != nil {
		return nil, err
	}
	// the cached pipeline list embeds stages
	_ = utils.RemoveRedisList[Pipeline](businessId)
	return &stage, nil
}

func defaultForecastCategory(t StageType) ForecastCategory {
	if t == StageTypeWon || t == StageTypeLost {
		return ForecastCategoryClosed
	}
	return ForecastCategoryPipeline
}

// ListStages returns the pipeline's stages ordered by stage_order ascending.
func ListStages(ctx context.Context, pipelineId int) ([]*Stage, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}

	if err := utils.ValidateResourceId[Pipeline](ctx, businessId, pipelineId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var stages []*Stage
	err := db.WithContext(ctx).
		Where("business_id = ? AND pipeline_id = ?", businessId, pipelineId).
		Order("stage_order ASC").
		Find(&stages).Error
	if err != nil {
		return nil, err
	}
	return stages, nil
}

// GetStage fetches a single stage scoped to the tenant.
func GetStage(ctx context.Context, id int) (*Stage, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}
	return utils.FetchModel[Stage](ctx, businessId, id)
}

// getStageByType resolves the pipeline's Won- or Lost-type stage.
// Each pipeline is assumed to carry exactly one of each.
func getStageByType(ctx context.Context, businessId string, pipelineId int, stageType StageType) (*Stage, error) {
	db := config.GetDB()
	var stage Stage
	err := db.WithContext(ctx).
		Where("business_id = ? AND pipeline_id = ? AND stage_type = ?", businessId, pipelineId, stageType).
		Order("stage_order ASC").
		First(&stage).Error
	if err != nil {
		return nil, utils.Validationf("pipeline %d has no %s stage", pipelineId, stageType)
	}
	return &stage, nil
}
