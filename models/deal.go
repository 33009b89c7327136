package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/crm_backend/config"
	"github.com/mmdatafocus/crm_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StageHistoryEntry records one stage the deal previously occupied. Entries
// are append-only: the current stage never has an entry until the deal exits it.
type StageHistoryEntry struct {
	StageId     int       `json:"stage_id"`
	StageName   string    `json:"stage_name"`
	EnteredAt   time.Time `json:"entered_at"`
	ExitedAt    time.Time `json:"exited_at"`
	DaysInStage int       `json:"days_in_stage"`
}

// StageHistoryList is stored embedded in the deal row as a JSON column,
// not as a separate relation.
type StageHistoryList []StageHistoryEntry

func (l StageHistoryList) Value() (driver.Value, error) {
	if l == nil {
		l = StageHistoryList{}
	}
	return json.Marshal(l)
}

func (l *StageHistoryList) Scan(value interface{}) error {
	if value == nil {
		*l = StageHistoryList{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return errors.New("stage history must be bytes or string")
		}
		b = []byte(s)
	}
	if len(b) == 0 {
		*l = StageHistoryList{}
		return nil
	}
	return json.Unmarshal(b, l)
}

type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return errors.New("tags must be bytes or string")
		}
		b = []byte(s)
	}
	if len(b) == 0 {
		*l = StringList{}
		return nil
	}
	return json.Unmarshal(b, l)
}

// Deal is a tracked sales opportunity moving through a single pipeline for
// its lifetime. Stage name/order are denormalized snapshots kept in sync by
// the transition engine and never edited directly.
type Deal struct {
	ID                int              `gorm:"primary_key" json:"id"`
	BusinessId        string           `gorm:"index;not null" json:"business_id" binding:"required"`
	PipelineId        int              `gorm:"index;not null" json:"pipeline_id" binding:"required"`
	StageId           int              `gorm:"index;not null" json:"stage_id" binding:"required"`
	StageName         string           `gorm:"size:100;not null" json:"stage_name"`
	StageOrder        int              `gorm:"not null" json:"stage_order"`
	Name              string           `gorm:"size:255;not null" json:"name" binding:"required"`
	Value             decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"value"`
	CurrencyId        int              `json:"currency_id"`
	Probability       decimal.Decimal  `gorm:"type:decimal(5,2);default:0" json:"probability"`
	ForecastCategory  ForecastCategory `gorm:"type:enum('Omit','Pipeline','BestCase','Commit','Closed');not null;default:'Pipeline'" json:"forecast_category"`
	CurrentStatus     DealStatus       `gorm:"type:enum('Open','Won','Lost','OnHold','Abandoned');not null;default:'Open'" json:"current_status"`
	StageEnteredAt    time.Time        `gorm:"not null" json:"stage_entered_at"`
	LastStageChangeAt *time.Time       `json:"last_stage_change_at"`
	ExpectedCloseDate *time.Time       `gorm:"index" json:"expected_close_date"`
	ActualCloseDate   *time.Time       `json:"actual_close_date"`
	StageHistory      StageHistoryList `gorm:"type:json" json:"stage_history"`
	OwnerId           int              `gorm:"index;not null" json:"owner_id" binding:"required"`
	AccountId         int              `gorm:"index" json:"account_id"`
	LossReason        string           `gorm:"size:255" json:"loss_reason"`
	LossReasonDetail  string           `gorm:"type:text" json:"loss_reason_detail"`
	CompetitorName    string           `gorm:"size:255" json:"competitor_name"`
	Notes             string           `gorm:"type:text" json:"notes"`
	Tags              StringList       `gorm:"type:json" json:"tags"`
	Version           int              `gorm:"not null;default:1" json:"version"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewDeal struct {
	PipelineId        int              `json:"pipeline_id" binding:"required"`
	StageId           int              `json:"stage_id" binding:"required"`
	Name              string           `json:"name" binding:"required"`
	Value             decimal.Decimal  `json:"value"`
	CurrencyId        int              `json:"currency_id"`
	Probability       *decimal.Decimal `json:"probability"`
	ExpectedCloseDate *time.Time       `json:"expected_close_date"`
	OwnerId           int              `json:"owner_id" binding:"required"`
	AccountId         int              `json:"account_id"`
	Notes             string           `json:"notes"`
	Tags              []string         `json:"tags"`
}

// DealPatch updates non-stage fields. Stage and status moves must go through
// TransitionDealStage / MarkDealWon / MarkDealLost.
type DealPatch struct {
	Name              *string          `json:"name"`
	Value             *decimal.Decimal `json:"value"`
	CurrencyId        *int             `json:"currency_id"`
	ExpectedCloseDate *time.Time       `json:"expected_close_date"`
	OwnerId           *int             `json:"owner_id"`
	Notes             *string          `json:"notes"`
	Tags              []string         `json:"tags"`
}

type DealsEdge Edge[Deal]
type DealsConnection struct {
	Edges    []*DealsEdge `json:"edges"`
	PageInfo *PageInfo    `json:"pageInfo"`
}

func (d Deal) GetCursor() string {
	return d.CreatedAt.Format("2006-01-02 15:04:05.999999")
}

func (d Deal) GetId() int {
	return d.ID
}

// WeightedValue is value x probability / 100.
func (d Deal) WeightedValue() decimal.Decimal {
	return d.Value.Mul(d.Probability).Div(probabilityHundred)
}

func (input *NewDeal) validate(ctx context.Context, businessId string) (*Stage, error) {
	if input.Name == "" {
		return nil, utils.Validationf("deal name is required")
	}
	if input.OwnerId <= 0 {
		return nil, utils.Validationf("deal owner is required")
	}
	if input.Value.IsNegative() {
		return nil, utils.Validationf("deal value cannot be negative")
	}
	if input.Probability != nil &&
		(input.Probability.IsNegative() || input.Probability.GreaterThan(probabilityHundred)) {
		return nil, utils.Validationf("probability must be between 0 and 100")
	}
	if err := utils.ValidateResourceId[Pipeline](ctx, businessId, input.PipelineId); err != nil {
		return nil, err
	}
	stage, err := utils.FetchModel[Stage](ctx, businessId, input.StageId)
	if err != nil {
		return nil, err
	}
	if stage.PipelineId != input.PipelineId {
		return nil, utils.Validationf("stage %d does not belong to pipeline %d", input.StageId, input.PipelineId)
	}
	if input.AccountId > 0 {
		if err := utils.ValidateResourceId[Account](ctx, businessId, input.AccountId); err != nil {
			return nil, utils.Validationf("account not found")
		}
	}
	return stage, nil
}

func CreateDeal(ctx context.Context, input *NewDeal) (*Deal, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}

	stage, err := input.validate(ctx, businessId)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	// probability comes from the stage's default unless the caller overrides it
	probability := stage.Probability
	if input.Probability != nil {
		probability = *input.Probability
	}

	deal := Deal{
		BusinessId:        businessId,
		PipelineId:        input.PipelineId,
		StageId:           stage.ID,
		StageName:         stage.Name,
		StageOrder:        stage.StageOrder,
		Name:              input.Name,
		Value:             input.Value,
		CurrencyId:        input.CurrencyId,
		Probability:       probability,
		ForecastCategory:  stage.ForecastCategory,
		CurrentStatus:     DealStatusOpen,
		StageEnteredAt:    now,
		ExpectedCloseDate: input.ExpectedCloseDate,
		StageHistory:      StageHistoryList{},
		OwnerId:           input.OwnerId,
		AccountId:         input.AccountId,
		Notes:             input.Notes,
		Tags:              StringList(utils.UniqueSlice(input.Tags)),
		Version:           1,
	}

	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&deal).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	actorId, _ := utils.GetUserIdFromContext(ctx)
	if err := PublishDealEvent(ctx, tx, businessId, &deal, DealEventCreated, actorId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := writeDealChangeLog(ctx, tx, businessId, &deal, "C",
		fmt.Sprintf("Deal created in stage %s.", stage.Name)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if deal.AccountId > 0 {
		if err := RecomputeAccountMetrics(ctx, deal.AccountId); err != nil {
			return nil, err
		}
	}

	return &deal, nil
}

// GetDeal is cache-aside: a bounded-TTL redis snapshot, refreshed from the
// database on miss. Not a source of truth for concurrency control.
func GetDeal(ctx context.Context, id int) (*Deal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}

	cached, err := utils.RetrieveRedis[Deal](id)
	if err == nil && cached != nil && cached.BusinessId == businessId {
		return cached, nil
	}

	deal, err := utils.FetchModel[Deal](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	if err := utils.StoreRedis[Deal](deal, deal.ID); err != nil {
		config.LogError(config.GetLogger(), "models", "GetDeal", "cache store", deal.ID, err)
	}
	return deal, nil
}

func UpdateDeal(ctx context.Context, id int, patch *DealPatch) (*Deal, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}

	deal, err := utils.FetchModel[Deal](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	if patch.Value != nil && patch.Value.IsNegative() {
		return nil, utils.Validationf("deal value cannot be negative")
	}
	if patch.Name != nil && *patch.Name == "" {
		return nil, utils.Validationf("deal name cannot be empty")
	}
	if patch.OwnerId != nil && *patch.OwnerId <= 0 {
		return nil, utils.Validationf("deal owner is required")
	}

	valueChanged := patch.Value != nil && !patch.Value.Equal(deal.Value)

	updates := map[string]interface{}{
		"version": deal.Version + 1,
	}
	if patch.Name != nil {
		updates["name"] = *patch.Name
		deal.Name = *patch.Name
	}
	if patch.Value != nil {
		updates["value"] = *patch.Value
		deal.Value = *patch.Value
	}
	if patch.CurrencyId != nil {
		updates["currency_id"] = *patch.CurrencyId
		deal.CurrencyId = *patch.CurrencyId
	}
	if patch.ExpectedCloseDate != nil {
		updates["expected_close_date"] = patch.ExpectedCloseDate
		deal.ExpectedCloseDate = patch.ExpectedCloseDate
	}
	if patch.OwnerId != nil {
		updates["owner_id"] = *patch.OwnerId
		deal.OwnerId = *patch.OwnerId
	}
	if patch.Notes != nil {
		updates["notes"] = *patch.Notes
		deal.Notes = *patch.Notes
	}
	if patch.Tags != nil {
		tags := StringList(utils.UniqueSlice(patch.Tags))
		updates["tags"] = tags
		deal.Tags = tags
	}

	tx := db.Begin()
	res := tx.WithContext(ctx).Model(&Deal{}).
		Where("id = ? AND business_id = ? AND version = ?", deal.ID, businessId, deal.Version).
		Updates(updates)
	if res.Error != nil {
		tx.Rollback()
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return nil, utils.ErrorVersionConflict
	}
	deal.Version++

	actorId, _ := utils.GetUserIdFromContext(ctx)
	if err := PublishDealEvent(ctx, tx, businessId, deal, DealEventUpdated, actorId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	invalidateDealCache(deal.ID)

	if valueChanged && deal.AccountId > 0 {
		if err := RecomputeAccountMetrics(ctx, deal.AccountId); err != nil {
			return nil, err
		}
	}

	return deal, nil
}

// DeleteDeal is an administrative hard delete; normal operation never removes
// deals (audit retention).
func DeleteDeal(ctx context.Context, id int) error {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.Validationf("business id is required")
	}

	deal, err := utils.FetchModel[Deal](ctx, businessId, id)
	if err != nil {
		return err
	}

	tx := db.Begin()
	if err := tx.WithContext(ctx).Where("business_id = ?", businessId).Delete(&Deal{}, id).Error; err != nil {
		tx.Rollback()
		return err
	}
	actorId, _ := utils.GetUserIdFromContext(ctx)
	if err := PublishDealEvent(ctx, tx, businessId, deal, DealEventDeleted, actorId); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}

	invalidateDealCache(id)

	if deal.AccountId > 0 {
		if err := RecomputeAccountMetrics(ctx, deal.AccountId); err != nil {
			return err
		}
	}
	return nil
}

func invalidateDealCache(id int) {
	if err := utils.RemoveRedisItem[Deal](id); err != nil {
		config.LogError(config.GetLogger(), "models", "invalidateDealCache", "cache invalidate", id, err)
	}
}

// DealFilter selects deals for list/forecast/board reads.
type DealFilter struct {
	PipelineId     int              `json:"pipeline_id"`
	StageId        int              `json:"stage_id"`
	OwnerId        int              `json:"owner_id"`
	AccountId      int              `json:"account_id"`
	Status         DealStatus       `json:"status"`
	MinValue       *decimal.Decimal `json:"min_value"`
	MaxValue       *decimal.Decimal `json:"max_value"`
	CloseDateFrom  *time.Time       `json:"close_date_from"`
	CloseDateTo    *time.Time       `json:"close_date_to"`
	SearchText     string           `json:"search_text"`
}

func (f DealFilter) apply(dbCtx *gorm.DB) *gorm.DB {
	if f.PipelineId > 0 {
		dbCtx = dbCtx.Where("pipeline_id = ?", f.PipelineId)
	}
	if f.StageId > 0 {
		dbCtx = dbCtx.Where("stage_id = ?", f.StageId)
	}
	if f.OwnerId > 0 {
		dbCtx = dbCtx.Where("owner_id = ?", f.OwnerId)
	}
	if f.AccountId > 0 {
		dbCtx = dbCtx.Where("account_id = ?", f.AccountId)
	}
	if f.Status != "" {
		dbCtx = dbCtx.Where("current_status = ?", f.Status)
	}
	if f.MinValue != nil {
		dbCtx = dbCtx.Where("value >= ?", f.MinValue)
	}
	if f.MaxValue != nil {
		dbCtx = dbCtx.Where("value <= ?", f.MaxValue)
	}
	if f.CloseDateFrom != nil {
		dbCtx = dbCtx.Where("expected_close_date >= ?", f.CloseDateFrom)
	}
	if f.CloseDateTo != nil {
		dbCtx = dbCtx.Where("expected_close_date <= ?", f.CloseDateTo)
	}
	if f.SearchText != "" {
		like := "%" + f.SearchText + "%"
		dbCtx = dbCtx.Where("(name LIKE ? OR notes LIKE ?)", like, like)
	}
	return dbCtx
}

// ListDeals pages deals matching the filter, newest first.
func ListDeals(ctx context.Context, filter DealFilter, limit int, after *string) (*DealsConnection, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}
	if limit <= 0 {
		limit = config.SearchLimit
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Deal{}).Where("business_id = ?", businessId)
	dbCtx = filter.apply(dbCtx)

	edges, pageInfo, err := FetchPageCompositeCursor[Deal](dbCtx, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}

	connection := DealsConnection{
		Edges:    make([]*DealsEdge, 0, len(edges)),
		PageInfo: pageInfo,
	}
	for i := range edges {
		edge := DealsEdge(edges[i])
		connection.Edges = append(connection.Edges, &edge)
	}
	return &connection, nil
}
