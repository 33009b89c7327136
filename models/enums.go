package models

type StageType string

const (
	StageTypeOpen StageType = "Open"
	StageTypeWon  StageType = "Won"
	StageTypeLost StageType = "Lost"
)

func (t StageType) Valid() bool {
	switch t {
	case StageTypeOpen, StageTypeWon, StageTypeLost:
		return true
	}
	return false
}

type DealStatus string

const (
	DealStatusOpen      DealStatus = "Open"
	DealStatusWon       DealStatus = "Won"
	DealStatusLost      DealStatus = "Lost"
	DealStatusOnHold    DealStatus = "OnHold"
	DealStatusAbandoned DealStatus = "Abandoned"
)

func (s DealStatus) Valid() bool {
	switch s {
	case DealStatusOpen, DealStatusWon, DealStatusLost, DealStatusOnHold, DealStatusAbandoned:
		return true
	}
	return false
}

// Won and Lost are terminal: no further stage transitions are permitted.
func (s DealStatus) IsTerminal() bool {
	return s == DealStatusWon || s == DealStatusLost
}

type ForecastCategory string

const (
	ForecastCategoryOmit     ForecastCategory = "Omit"
	ForecastCategoryPipeline ForecastCategory = "Pipeline"
	ForecastCategoryBestCase ForecastCategory = "BestCase"
	ForecastCategoryCommit   ForecastCategory = "Commit"
	ForecastCategoryClosed   ForecastCategory = "Closed"
)

func (c ForecastCategory) Valid() bool {
	switch c {
	case ForecastCategoryOmit, ForecastCategoryPipeline, ForecastCategoryBestCase, ForecastCategoryCommit, ForecastCategoryClosed:
		return true
	}
	return false
}

// DealEventType names the lifecycle events written to the outbox and fanned
// out to the deal-events topic and the notification dispatcher.
type DealEventType string

const (
	DealEventCreated      DealEventType = "DealCreated"
	DealEventStageChanged DealEventType = "DealStageChanged"
	DealEventWon          DealEventType = "DealWon"
	DealEventLost         DealEventType = "DealLost"
	DealEventUpdated      DealEventType = "DealUpdated"
	DealEventDeleted      DealEventType = "DealDeleted"
	DealEventStale        DealEventType = "StaleDeals"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
