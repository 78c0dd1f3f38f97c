package models

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/fieldops_backend/config"
	"bitbucket.org/mmdatafocus/fieldops_backend/utils"
	"gorm.io/gorm"
)

const defaultHistoryPageLimit = 50

type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"index;not null" json:"business_id"`
	ActionType    string    `gorm:"size:10;not null" json:"action_type" binding:"required"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	ReferenceID   int       `gorm:"index" json:"reference_id"`
	ReferenceType string    `gorm:"size:255" json:"reference_type"`
	UserId        int       `gorm:"index;not null" json:"user_id"`
	UserName      string    `gorm:"size:100" json:"user_name"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func createHistory(tx *gorm.DB,
	actionType HistoryActionType,
	referenceId int,
	referenceType string,
	before interface{},
	after interface{},
	description string) (err error) {

	var history History

	b, _ := json.Marshal(before)
	a, _ := json.Marshal(after)

	ctx := tx.Statement.Context
	// get businessId, userId, userName from context
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return errors.New("user id is required")
	}
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok {
		return errors.New("user name is required")
	}

	history.BusinessId = businessId
	history.ActionType = string(actionType)
	history.Before = string(b)
	history.After = string(a)
	history.Description = description
	history.ReferenceID = referenceId
	history.ReferenceType = referenceType
	history.UserId = userId
	history.UserName = userName

	err = tx.Create(&history).Error
	return err
}

// SaveHistory records an audit row outside a surrounding transaction.
func SaveHistory(ctx context.Context,
	actionType HistoryActionType,
	referenceId int,
	referenceType string,
	before interface{},
	after interface{},
	description string) error {

	db := config.GetDB()
	return createHistory(db.WithContext(ctx), actionType, referenceId, referenceType, before, after, description)
}

func (h History) GetCursor() string {
	return strconv.Itoa(h.ID)
}

type HistoriesConnection struct {
	Edges    []Edge[History] `json:"edges"`
	PageInfo *PageInfo       `json:"page_info"`
}

// PaginateHistories lists audit rows for one record, newest first.
// The auto-increment id doubles as the cursor since rows are append-only.
func PaginateHistories(ctx context.Context, referenceType string, referenceId int, limit *int, after *string) (*HistoriesConnection, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	pageLimit := defaultHistoryPageLimit
	if limit != nil && *limit > 0 {
		pageLimit = *limit
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&History{}).
		Where("business_id = ? AND reference_type = ? AND reference_id = ?", businessId, referenceType, referenceId)

	edges, pageInfo, err := FetchPagePureCursor[History](dbCtx, pageLimit, after, "id", "<")
	if err != nil {
		return nil, err
	}
	return &HistoriesConnection{Edges: edges, PageInfo: pageInfo}, nil
}
