package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/crm_backend/config"
	"github.com/mmdatafocus/crm_backend/utils"
	"gorm.io/gorm"
)

// Pipeline is an ordered sequence of stages a deal moves through. One is
// created per sales process; stages are added/reordered administratively and
// a pipeline is never deleted while deals still reference it.
type Pipeline struct {
	ID                int       `gorm:"primary_key" json:"id"`
	BusinessId        string    `gorm:"index;not null" json:"business_id" binding:"required"`
	Name              string    `gorm:"size:100;not null" json:"name" binding:"required"`
	CurrencyId        int       `gorm:"not null" json:"currency_id"`
	StalenessEnabled  *bool     `gorm:"not null;default:true" json:"staleness_enabled"`
	StaleWarningDays  int       `gorm:"not null;default:30" json:"stale_warning_days"`
	StaleCriticalDays int       `gorm:"not null;default:60" json:"stale_critical_days"`
	IsActive          *bool     `gorm:"not null;default:true" json:"is_active"`
	Stages            []Stage   `gorm:"foreignKey:PipelineId" json:"stages"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPipeline struct {
	Name              string `json:"name" binding:"required"`
	CurrencyId        int    `json:"currency_id"`
	StalenessEnabled  *bool  `json:"staleness_enabled"`
	StaleWarningDays  int    `json:"stale_warning_days"`
	StaleCriticalDays int    `json:"stale_critical_days"`
}

func (p Pipeline) GetCursor() string {
	return p.CreatedAt.String()
}

func (p Pipeline) GetId() int {
	return p.ID
}

func (input *NewPipeline) validate(ctx context.Context, businessId string, id int) error {
	if input.Name == "" {
		return utils.Validationf("pipeline name is required")
	}
	if err := utils.ValidateUnique[Pipeline](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	if input.StaleWarningDays < 0 || input.StaleCriticalDays < 0 {
		return utils.Validationf("staleness thresholds cannot be negative")
	}
	if input.StaleCriticalDays > 0 && input.StaleWarningDays > input.StaleCriticalDays {
		return utils.Validationf("stale warning days cannot exceed critical days")
	}
	return nil
}

func CreatePipeline(ctx context.Context, input *NewPipeline) (*Pipeline, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	warningDays := input.StaleWarningDays
	if warningDays == 0 {
		warningDays = 30
	}
	criticalDays := input.StaleCriticalDays
	if criticalDays == 0 {
		criticalDays = 60
	}
	stalenessEnabled := input.StalenessEnabled
	if stalenessEnabled == nil {
		stalenessEnabled = utils.NewTrue()
	}

	pipeline := Pipeline{
		BusinessId:        businessId,
		Name:              input.Name,
		CurrencyId:        input.CurrencyId,
		StalenessEnabled:  stalenessEnabled,
		StaleWarningDays:  warningDays,
		StaleCriticalDays: criticalDays,
		IsActive:          utils.NewTrue(),
	}

	if err := db.WithContext(ctx).Create(&pipeline).Error; err != nil {
		return nil, err
	}
	_ = utils.RemoveRedisList[Pipeline](businessId)
	return &pipeline, nil
}

// GetPipeline returns the pipeline with its stages ordered by stage_order.
func GetPipeline(ctx context.Context, id int) (*Pipeline, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}

	db := config.GetDB()
	var pipeline Pipeline
	err := db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("stage_order ASC") }).
		Where("business_id = ?", businessId).
		First(&pipeline, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &pipeline, nil
}

// ListPipelines serves from the per-tenant list cache when warm; pipeline and
// stage mutations invalidate it.
func ListPipelines(ctx context.Context) ([]*Pipeline, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}

	if cached, err := utils.RetrieveRedisList[Pipeline](businessId); err == nil && cached != nil {
		return cached, nil
	}

	db := config.GetDB()
	var pipelines []*Pipeline
	err := db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("stage_order ASC") }).
		Where("business_id = ?", businessId).
		Order("id ASC").
		Find(&pipelines).Error
	if err != nil {
		return nil, err
	}
	_ = utils.StoreRedisList[Pipeline](pipelines, businessId)
	return pipelines, nil
}

// DeletePipeline refuses while deals still reference the pipeline.
func DeletePipeline(ctx context.Context, id int) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.Validationf("business id is required")
	}

	if err := utils.ValidateResourceId[Pipeline](ctx, businessId, id); err != nil {
		return err
	}

	count, err := utils.ResourceCountWhere[Deal](ctx, businessId, "pipeline_id = ?", id)
	if err != nil {
		return err
	}
	if count > 0 {
		return utils.Validationf("pipeline is referenced by %d deal(s)", count)
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Where("pipeline_id = ?", id).Delete(&Stage{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.WithContext(ctx).Where("business_id = ?", businessId).Delete(&Pipeline{}, id).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}
	_ = utils.RemoveRedisList[Pipeline](businessId)
	return nil
}
