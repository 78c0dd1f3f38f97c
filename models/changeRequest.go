package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/fieldops_backend/config"
	"bitbucket.org/mmdatafocus/fieldops_backend/utils"
)

// ChangeRequest is a proposed edit to a point of sale, held until a
// supervisor with zone authority decides it. The zone is frozen at
// submission so a later move of the point of sale does not change who
// may decide the pending request.
type ChangeRequest struct {
	ID              int                 `gorm:"primary_key" json:"id"`
	BusinessId      string              `gorm:"index;size:36;not null" json:"business_id"`
	PointOfSaleId   int                 `gorm:"index;not null" json:"point_of_sale_id"`
	ZoneId          int                 `gorm:"index;not null" json:"zone_id"`
	RequesterId     int                 `gorm:"index;not null" json:"requester_id"`
	Diff            string              `gorm:"type:text;not null" json:"diff"`
	Status          ChangeRequestStatus `gorm:"type:enum('P','A','R');default:P;index" json:"status"`
	RejectionReason *string             `gorm:"size:255" json:"rejection_reason"`
	DecidedBy       *int                `json:"decided_by"`
	DecidedAt       *time.Time          `json:"decided_at"`
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (cr ChangeRequest) GetId() int {
	return cr.ID
}

func (cr ChangeRequest) GetCursor() string {
	return cr.CreatedAt.String()
}

// DiffFields decodes the stored diff document.
func (cr *ChangeRequest) DiffFields() (map[string]interface{}, error) {
	var fields map[string]interface{}
	err := utils.UnmarshalFromJSON([]byte(cr.Diff), &fields)
	if err != nil {
		return nil, err
	}
	return fields, nil
}

type NewChangeRequest struct {
	PointOfSaleId int                    `json:"point_of_sale_id" binding:"required"`
	Diff          map[string]interface{} `json:"diff" binding:"required"`
}

type ChangeRequestsEdge Edge[ChangeRequest]

type ChangeRequestsConnection struct {
	Edges    []*ChangeRequestsEdge `json:"edges"`
	PageInfo *PageInfo             `json:"pageInfo"`
}

// SubmitChangeRequest records a pending proposal against an existing
// point of sale. The diff is stored verbatim; field-level screening
// happens at apply time unless strict validation is switched on.
func SubmitChangeRequest(ctx context.Context, input *NewChangeRequest) (*ChangeRequest, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	requesterId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	if len(input.Diff) == 0 {
		return nil, utils.ErrorEmptyDiff
	}

	if config.StrictDiffFieldValidation() {
		keys := make([]string, 0, len(input.Diff))
		for key := range input.Diff {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if !IsMutablePointOfSaleField(key) {
				return nil, fmt.Errorf("%w: %s", utils.ErrorUnknownDiffField, key)
			}
		}
	}

	pointOfSale, err := GetPointOfSale(ctx, input.PointOfSaleId)
	if err != nil {
		return nil, err
	}

	diffJson, err := utils.MarshalToJSON(input.Diff)
	if err != nil {
		return nil, err
	}

	changeRequest := ChangeRequest{
		BusinessId:    businessId,
		PointOfSaleId: pointOfSale.ID,
		ZoneId:        pointOfSale.ZoneId,
		RequesterId:   requesterId,
		Diff:          diffJson,
		Status:        ChangeRequestStatusPending,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&changeRequest).Error; err != nil {
		return nil, err
	}

	if err := SaveHistory(ctx, HistoryActionCreate, changeRequest.ID, "ChangeRequest",
		nil, &changeRequest,
		fmt.Sprintf("Change request submitted for point of sale %d.", pointOfSale.ID)); err != nil {
		config.LogError(config.GetLogger(), "models", "SubmitChangeRequest", "create history", changeRequest.ID, err)
	}

	return &changeRequest, nil
}

func GetChangeRequest(ctx context.Context, id int) (*ChangeRequest, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	return utils.FetchModel[ChangeRequest](ctx, businessId, id)
}

func PaginateChangeRequests(ctx context.Context, limit *int, after *string,
	status *ChangeRequestStatus,
	zoneId *int,
	pointOfSaleId *int,
	requesterId *int,
	searchText *string) (*ChangeRequestsConnection, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)

	if status != nil {
		dbCtx.Where("status = ?", *status)
	}
	if zoneId != nil && *zoneId > 0 {
		dbCtx.Where("zone_id = ?", *zoneId)
	}
	if pointOfSaleId != nil && *pointOfSaleId > 0 {
		dbCtx.Where("point_of_sale_id = ?", *pointOfSaleId)
	}
	if requesterId != nil && *requesterId > 0 {
		dbCtx.Where("requester_id = ?", *requesterId)
	}
	if searchText != nil && *searchText != "" {
		dbCtx.Where("point_of_sale_id IN (SELECT id FROM point_of_sales WHERE business_id = ? AND name LIKE ?)",
			businessId, "%"+*searchText+"%")
	}

	pageLimit := 20
	if limit != nil && *limit > 0 {
		pageLimit = *limit
	}

	edges, pageInfo, err := FetchPageCompositeCursor[ChangeRequest](dbCtx, pageLimit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}
	var connection ChangeRequestsConnection
	connection.PageInfo = pageInfo
	for _, edge := range edges {
		changeRequestsEdge := ChangeRequestsEdge(edge)
		connection.Edges = append(connection.Edges, &changeRequestsEdge)
	}

	return &connection, err
}
