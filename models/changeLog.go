package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/crm_backend/config"
	"github.com/mmdatafocus/crm_backend/utils"
	"gorm.io/gorm"
)

// DealChangeLog is the audit trail written alongside every deal mutation.
// Rows are append-only and kept after deals close.
type DealChangeLog struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"index;not null" json:"business_id"`
	DealId      int       `gorm:"index;not null" json:"deal_id"`
	ActionType  string    `gorm:"size:10;not null" json:"action_type"` // C|U|D
	Snapshot    string    `gorm:"type:text" json:"snapshot"`
	Description string    `gorm:"type:text;not null" json:"description"`
	UserId      int       `gorm:"index" json:"user_id"`
	UserName    string    `gorm:"size:100" json:"user_name"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (l DealChangeLog) GetId() int {
	return l.ID
}

func (l DealChangeLog) GetCursor() string {
	return l.CreatedAt.Format("2006-01-02 15:04:05.999999")
}

// writeDealChangeLog appends an audit row inside the caller's transaction.
// Actor identity comes from the request context; the sweep and other
// background writers log with a zero user id.
func writeDealChangeLog(ctx context.Context, tx *gorm.DB, businessId string, deal *Deal, actionType string, description string) error {
	snapshot, _ := utils.MarshalToJSON(deal)

	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	entry := DealChangeLog{
		BusinessId:  businessId,
		DealId:      deal.ID,
		ActionType:  actionType,
		Snapshot:    snapshot,
		Description: description,
		UserId:      userId,
		UserName:    userName,
	}
	return tx.WithContext(ctx).Create(&entry).Error
}

type DealChangeLogsEdge Edge[DealChangeLog]
type DealChangeLogsConnection struct {
	Edges    []*DealChangeLogsEdge `json:"edges"`
	PageInfo *PageInfo             `json:"pageInfo"`
}

// PaginateDealChangeLogs pages the audit trail, newest first.
func PaginateDealChangeLogs(ctx context.Context, dealId int, limit int, after *string) (*DealChangeLogsConnection, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.Validationf("business id is required")
	}
	if limit <= 0 {
		limit = config.SearchLimit
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&DealChangeLog{}).Where("business_id = ?", businessId)
	if dealId > 0 {
		dbCtx = dbCtx.Where("deal_id = ?", dealId)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[DealChangeLog](dbCtx, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}

	connection := DealChangeLogsConnection{
		Edges:    make([]*DealChangeLogsEdge, 0, len(edges)),
		PageInfo: pageInfo,
	}
	for i := range edges {
		edge := DealChangeLogsEdge(edges[i])
		connection.Edges = append(connection.Edges, &edge)
	}
	return &connection, nil
}
