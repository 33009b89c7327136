package models

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/crm_backend/config"
	"github.com/mmdatafocus/crm_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Account is a customer organization deals attach to. The deal metric columns
// are denormalized rollups recomputed from a full scan of the account's deals;
// they are never incremented in place.
type Account struct {
	ID               int             `gorm:"primary_key" json:"id"`
	BusinessId       string          `gorm:"index;not null" json:"business_id" binding:"required"`
	Name             string          `gorm:"index;size:255;not null" json:"name" binding:"required"`
	Industry         string          `gorm:"size:100" json:"industry"`
	Website          string          `gorm:"size:255" json:"website"`
	OwnerId          int             `gorm:"index" json:"owner_id"`
	OpenDealCount    int             `gorm:"not null;default:0" json:"open_deal_count"`
	TotalDealValue   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_deal_value"`
	WonDealCount     int             `gorm:"not null;default:0" json:"won_deal_count"`
	LifetimeValue    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"lifetime_value"`
	LostDealCount    int             `gorm:"not null;default:0" json:"lost_deal_count"`
	MetricsUpdatedAt *time.Time      `json:"metrics_updated_at"`
	IsActive         *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAccount struct {
	Name     string `json:"name" binding:"required"`
	Industry string `json:"industry"`
	Website  string `json:"website"`
	OwnerId  int    `json:"owner_id"`
}

func (a Account) GetCursor() string {
	return a.CreatedAt.Format("2006-01-02 15:04:05.999999")
}

func (a Account) GetId() int {
	return a.ID
}

func (input *NewAccount) validate(ctx context.Context, businessId string, id int) error {
	if input.Name == "" {
		return utils.Validationf("account name is required")
	}
	return utils.ValidateUnique[Account](ctx, businessId, "name", input.Name, id)
}

func CreateAccount(ctx context.Context, input *NewAccount) (*Account, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	account := Account{
		BusinessId:     businessId,
		Name:           input.Name,
		Industry:       input.Industry,
		Website:        input.Website,
		OwnerId:        input.OwnerId,
		TotalDealValue: decimal.Zero,
		LifetimeValue:  decimal.Zero,
		IsActive:       utils.NewTrue(),
	}

	if err := db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func GetAccount(ctx context.Context, id int) (*Account, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}
	return utils.FetchModel[Account](ctx, businessId, id)
}

type AccountsEdge Edge[Account]
type AccountsConnection struct {
	Edges    []*AccountsEdge `json:"edges"`
	PageInfo *PageInfo       `json:"pageInfo"`
}

func ListAccounts(ctx context.Context, limit int, after *string) (*AccountsConnection, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}
	if limit <= 0 {
		limit = config.SearchLimit
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Account{}).Where("business_id = ?", businessId)

	edges, pageInfo, err := FetchPageCompositeCursor[Account](dbCtx, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}

	connection := AccountsConnection{
		Edges:    make([]*AccountsEdge, 0, len(edges)),
		PageInfo: pageInfo,
	}
	for i := range edges {
		edge := AccountsEdge(edges[i])
		connection.Edges = append(connection.Edges, &edge)
	}
	return &connection, nil
}

// AccountMetrics is the recomputed rollup. Open deals drive count and total
// value; closed deals drive the won/lost counters and lifetime value.
type AccountMetrics struct {
	OpenDealCount  int
	TotalDealValue decimal.Decimal
	WonDealCount   int
	LifetimeValue  decimal.Decimal
	LostDealCount  int
}

// ComputeDealMetrics folds an account's deals into its rollup. Pure.
func ComputeDealMetrics(deals []*Deal) AccountMetrics {
	metrics := AccountMetrics{
		TotalDealValue: decimal.Zero,
		LifetimeValue:  decimal.Zero,
	}
	for _, deal := range deals {
		switch deal.CurrentStatus {
		case DealStatusWon:
			metrics.WonDealCount++
			metrics.LifetimeValue = metrics.LifetimeValue.Add(deal.Value)
		case DealStatusLost:
			metrics.LostDealCount++
		case DealStatusAbandoned:
			// abandoned deals drop out of the rollup entirely
		default:
			metrics.OpenDealCount++
			metrics.TotalDealValue = metrics.TotalDealValue.Add(deal.Value)
		}
	}
	return metrics
}

// acquireRollupLock serializes rollup recomputation per account across
// instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB connection that will do the rollup transaction.
func acquireRollupLock(tx *gorm.DB, accountId int) error {
	lockName := fmt.Sprintf("rollup:%d", accountId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire rollup lock for account_id=%d", accountId)
	}
	return nil
}

func releaseRollupLock(tx *gorm.DB, accountId int) {
	lockName := fmt.Sprintf("rollup:%d", accountId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

// RecomputeAccountMetrics rebuilds the account's rollup from a full scan of
// its deals. Recomputation is idempotent and self-healing, so a retry after
// any failure converges on the right numbers.
func RecomputeAccountMetrics(ctx context.Context, accountId int) error {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.Validationf("business id is required")
	}

	tx := db.Begin()
	if err := acquireRollupLock(tx, accountId); err != nil {
		tx.Rollback()
		return err
	}

	if err := recomputeAccountMetricsLocked(ctx, tx, businessId, accountId); err != nil {
		// release on tx before rollback; an advisory lock survives ROLLBACK
		// and would otherwise leak into the pooled connection
		releaseRollupLock(tx, accountId)
		tx.Rollback()
		return err
	}

	releaseRollupLock(tx, accountId)
	return tx.Commit().Error
}

func recomputeAccountMetricsLocked(ctx context.Context, tx *gorm.DB, businessId string, accountId int) error {
	var account Account
	if err := tx.WithContext(ctx).Where("business_id = ?", businessId).First(&account, accountId).Error; err != nil {
		return utils.ErrorRecordNotFound
	}

	var deals []*Deal
	err := tx.WithContext(ctx).
		Where("business_id = ? AND account_id = ?", businessId, accountId).
		Find(&deals).Error
	if err != nil {
		return err
	}

	metrics := ComputeDealMetrics(deals)
	now := time.Now().UTC()
	return tx.WithContext(ctx).Model(&Account{}).
		Where("id = ? AND business_id = ?", accountId, businessId).
		Updates(map[string]interface{}{
			"open_deal_count":    metrics.OpenDealCount,
			"total_deal_value":   metrics.TotalDealValue,
			"won_deal_count":     metrics.WonDealCount,
			"lifetime_value":     metrics.LifetimeValue,
			"lost_deal_count":    metrics.LostDealCount,
			"metrics_updated_at": now,
		}).Error
}
