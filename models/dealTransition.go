package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/crm_backend/config"
	"github.com/mmdatafocus/crm_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// guardTerminalClosure gates re-invoking a closure on a deal. A deal already
// closed with the requested status is an idempotent no-op; a deal closed the
// other way stays closed. Pure.
func guardTerminalClosure(current, requested DealStatus) (alreadyClosed bool, err error) {
	if current == requested {
		return true, nil
	}
	if current.IsTerminal() {
		return false, utils.Validationf("deal is already %s", strings.ToLower(string(current)))
	}
	return false, nil
}

// applyStageTransition mutates the deal in memory for a move into stage at
// instant now: appends the closed-out history entry for the stage being
// exited, refreshes the denormalized stage snapshot, and resets probability
// and forecast category to the target stage's defaults. Pure; callers persist.
func applyStageTransition(deal *Deal, stage *Stage, now time.Time) {
	days := int(now.Sub(deal.StageEnteredAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	deal.StageHistory = append(deal.StageHistory, StageHistoryEntry{
		StageId:     deal.StageId,
		StageName:   deal.StageName,
		EnteredAt:   deal.StageEnteredAt,
		ExitedAt:    now,
		DaysInStage: days,
	})

	deal.StageId = stage.ID
	deal.StageName = stage.Name
	deal.StageOrder = stage.StageOrder
	deal.Probability = stage.Probability
	deal.ForecastCategory = stage.ForecastCategory
	deal.StageEnteredAt = now
	deal.LastStageChangeAt = &now
}

// applyWonClosure finalizes a deal as won: probability pinned to 100,
// forecast category Closed, actual close date recorded.
func applyWonClosure(deal *Deal, closeDate time.Time, finalValue *decimal.Decimal) {
	deal.CurrentStatus = DealStatusWon
	deal.Probability = probabilityHundred
	deal.ForecastCategory = ForecastCategoryClosed
	deal.ActualCloseDate = &closeDate
	if finalValue != nil {
		deal.Value = *finalValue
	}
}

// applyLostClosure finalizes a deal as lost: probability zeroed, forecast
// category Closed, loss attribution recorded.
func applyLostClosure(deal *Deal, closeDate time.Time, reason, detail, competitor string) {
	deal.CurrentStatus = DealStatusLost
	deal.Probability = decimal.Zero
	deal.ForecastCategory = ForecastCategoryClosed
	deal.ActualCloseDate = &closeDate
	deal.LossReason = reason
	deal.LossReasonDetail = detail
	deal.CompetitorName = competitor
}

// persistDealTransition writes the mutated deal guarded by the version the
// caller read. RowsAffected 0 means a concurrent writer got there first.
func persistDealTransition(ctx context.Context, tx *gorm.DB, businessId string, deal *Deal, readVersion int) error {
	res := tx.WithContext(ctx).Model(&Deal{}).
		Where("id = ? AND business_id = ? AND version = ?", deal.ID, businessId, readVersion).
		Updates(map[string]interface{}{
			"stage_id":             deal.StageId,
			"stage_name":           deal.StageName,
			"stage_order":          deal.StageOrder,
			"probability":          deal.Probability,
			"forecast_category":    deal.ForecastCategory,
			"current_status":       deal.CurrentStatus,
			"stage_entered_at":     deal.StageEnteredAt,
			"last_stage_change_at": deal.LastStageChangeAt,
			"actual_close_date":    deal.ActualCloseDate,
			"value":                deal.Value,
			"loss_reason":          deal.LossReason,
			"loss_reason_detail":   deal.LossReasonDetail,
			"competitor_name":      deal.CompetitorName,
			"stage_history":        deal.StageHistory,
			"version":              readVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorVersionConflict
	}
	deal.Version = readVersion + 1
	return nil
}

// TransitionDealStage moves an open deal to another stage of its own
// pipeline. Moving into the pipeline's Won stage closes the deal as won;
// moving into the Lost stage is rejected because a loss needs a reason.
// probabilityOverride, when given, replaces the target stage's default.
func TransitionDealStage(ctx context.Context, dealId int, targetStageId int, probabilityOverride *decimal.Decimal) (*Deal, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}

	deal, err := utils.FetchModel[Deal](ctx, businessId, dealId)
	if err != nil {
		return nil, err
	}
	if deal.CurrentStatus.IsTerminal() {
		return nil, utils.Validationf("deal is %s and cannot change stage", deal.CurrentStatus)
	}

	stage, err := utils.FetchModel[Stage](ctx, businessId, targetStageId)
	if err != nil {
		return nil, err
	}
	if stage.PipelineId != deal.PipelineId {
		return nil, utils.Validationf("stage %d belongs to a different pipeline", targetStageId)
	}
	if stage.ID == deal.StageId {
		return deal, nil
	}
	if stage.StageType == StageTypeLost {
		return nil, utils.Validationf("closing a deal as lost requires a loss reason")
	}
	if probabilityOverride != nil &&
		(probabilityOverride.IsNegative() || probabilityOverride.GreaterThan(probabilityHundred)) {
		return nil, utils.Validationf("probability must be between 0 and 100")
	}

	now := time.Now().UTC()
	readVersion := deal.Version
	eventType := DealEventStageChanged
	fromStage := deal.StageName

	applyStageTransition(deal, stage, now)
	if probabilityOverride != nil {
		deal.Probability = *probabilityOverride
	}
	if stage.StageType == StageTypeWon {
		applyWonClosure(deal, now, nil)
		eventType = DealEventWon
	}

	tx := db.Begin()
	if err := persistDealTransition(ctx, tx, businessId, deal, readVersion); err != nil {
		tx.Rollback()
		return nil, err
	}
	actorId, _ := utils.GetUserIdFromContext(ctx)
	if err := PublishDealEvent(ctx, tx, businessId, deal, eventType, actorId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := writeDealChangeLog(ctx, tx, businessId, deal, "U",
		"Stage changed from "+fromStage+" to "+stage.Name+"."); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	invalidateDealCache(deal.ID)

	if deal.AccountId > 0 {
		if err := RecomputeAccountMetrics(ctx, deal.AccountId); err != nil {
			return nil, err
		}
	}
	return deal, nil
}

type WonOptions struct {
	ActualCloseDate *time.Time       `json:"actual_close_date"`
	FinalValue      *decimal.Decimal `json:"final_value"`
}

// MarkDealWon closes the deal as won, moving it to its pipeline's Won stage.
// Calling it on an already-won deal is a no-op.
func MarkDealWon(ctx context.Context, dealId int, opts *WonOptions) (*Deal, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}

	deal, err := utils.FetchModel[Deal](ctx, businessId, dealId)
	if err != nil {
		return nil, err
	}
	alreadyClosed, err := guardTerminalClosure(deal.CurrentStatus, DealStatusWon)
	if err != nil {
		return nil, err
	}
	if alreadyClosed {
		return deal, nil
	}

	if opts == nil {
		opts = &WonOptions{}
	}
	if opts.FinalValue != nil && opts.FinalValue.IsNegative() {
		return nil, utils.Validationf("final value cannot be negative")
	}

	wonStage, err := getStageByType(ctx, businessId, deal.PipelineId, StageTypeWon)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	closeDate := now
	if opts.ActualCloseDate != nil {
		closeDate = *opts.ActualCloseDate
	}

	readVersion := deal.Version
	if deal.StageId != wonStage.ID {
		applyStageTransition(deal, wonStage, now)
	}
	applyWonClosure(deal, closeDate, opts.FinalValue)

	tx := db.Begin()
	if err := persistDealTransition(ctx, tx, businessId, deal, readVersion); err != nil {
		tx.Rollback()
		return nil, err
	}
	actorId, _ := utils.GetUserIdFromContext(ctx)
	if err := PublishDealEvent(ctx, tx, businessId, deal, DealEventWon, actorId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := writeDealChangeLog(ctx, tx, businessId, deal, "U", "Deal marked as won."); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	invalidateDealCache(deal.ID)

	if deal.AccountId > 0 {
		if err := RecomputeAccountMetrics(ctx, deal.AccountId); err != nil {
			return nil, err
		}
	}
	return deal, nil
}

type LostInput struct {
	LossReason       string     `json:"loss_reason" binding:"required"`
	LossReasonDetail string     `json:"loss_reason_detail"`
	CompetitorName   string     `json:"competitor_name"`
	ActualCloseDate  *time.Time `json:"actual_close_date"`
}

// MarkDealLost closes the deal as lost, moving it to its pipeline's Lost
// stage. The loss reason is mandatory. Calling it on an already-lost deal is
// a no-op.
func MarkDealLost(ctx context.Context, dealId int, input *LostInput) (*Deal, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}

	deal, err := utils.FetchModel[Deal](ctx, businessId, dealId)
	if err != nil {
		return nil, err
	}
	alreadyClosed, err := guardTerminalClosure(deal.CurrentStatus, DealStatusLost)
	if err != nil {
		return nil, err
	}
	if alreadyClosed {
		return deal, nil
	}

	if input == nil || input.LossReason == "" {
		return nil, utils.Validationf("loss reason is required")
	}

	lostStage, err := getStageByType(ctx, businessId, deal.PipelineId, StageTypeLost)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	closeDate := now
	if input.ActualCloseDate != nil {
		closeDate = *input.ActualCloseDate
	}

	readVersion := deal.Version
	if deal.StageId != lostStage.ID {
		applyStageTransition(deal, lostStage, now)
	}
	applyLostClosure(deal, closeDate, input.LossReason, input.LossReasonDetail, input.CompetitorName)

	tx := db.Begin()
	if err := persistDealTransition(ctx, tx, businessId, deal, readVersion); err != nil {
		tx.Rollback()
		return nil, err
	}
	actorId, _ := utils.GetUserIdFromContext(ctx)
	if err := PublishDealEvent(ctx, tx, businessId, deal, DealEventLost, actorId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := writeDealChangeLog(ctx, tx, businessId, deal, "U",
		"Deal marked as lost ("+input.LossReason+")."); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	invalidateDealCache(deal.ID)

	if deal.AccountId > 0 {
		if err := RecomputeAccountMetrics(ctx, deal.AccountId); err != nil {
			return nil, err
		}
	}
	return deal, nil
}
