package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/fieldops_backend/config"
	"bitbucket.org/mmdatafocus/fieldops_backend/utils"
	"github.com/go-sql-driver/mysql"
)

// ZoneAssignment grants a user authority over a zone.
// A row with kind 'F' grants every zone of the business; zone_id is 0 there.
type ZoneAssignment struct {
	ID         int                `gorm:"primary_key" json:"id"`
	BusinessId string             `gorm:"index;size:36;not null" json:"business_id"`
	UserId     int                `gorm:"not null;uniqueIndex:idx_user_zone" json:"user_id"`
	ZoneId     int                `gorm:"not null;uniqueIndex:idx_user_zone" json:"zone_id"`
	Kind       ZoneAssignmentKind `gorm:"type:enum('F','R');not null;default:'R'" json:"kind"`
	CreatedAt  time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

func (a ZoneAssignment) GetId() int {
	return a.ID
}

// ZoneScope is the resolved set of zones a user may act on.
type ZoneScope struct {
	All     bool  `json:"all"`
	ZoneIds []int `json:"zone_ids"`
}

func (s *ZoneScope) CanAct(zoneId int) bool {
	if s == nil {
		return false
	}
	if s.All {
		return true
	}
	for _, id := range s.ZoneIds {
		if id == zoneId {
			return true
		}
	}
	return false
}

// remove ZoneScope:$userId
func ClearScopeCache(userId int) error {
	return utils.RemoveRedisItem[ZoneScope](userId)
}

// ResolveZoneScope computes the user's zone scope from role and assignments.
// The result is cached in Redis; assignment and role changes clear the cache.
func ResolveZoneScope(ctx context.Context, userId int) (*ZoneScope, error) {

	if !config.DisableScopeCache() {
		cached, err := utils.RetrieveRedis[ZoneScope](userId)
		if err == nil && cached != nil {
			return cached, nil
		}
	}

	user, err := utils.FetchSingleModel[User](ctx, userId)
	if err != nil {
		return nil, err
	}

	scope := &ZoneScope{}
	if user.Role == UserRoleAdmin {
		scope.All = true
	} else {
		db := config.GetDB()
		var assignments []*ZoneAssignment
		err = db.WithContext(ctx).
			Where("business_id = ? AND user_id = ?", user.BusinessId, userId).
			Find(&assignments).Error
		if err != nil {
			return nil, err
		}
		for _, assignment := range assignments {
			if assignment.Kind == ZoneAssignmentKindFull {
				scope.All = true
				scope.ZoneIds = nil
				break
			}
			scope.ZoneIds = append(scope.ZoneIds, assignment.ZoneId)
		}
	}

	if !config.DisableScopeCache() {
		_ = utils.StoreRedis[ZoneScope](scope, userId)
	}
	return scope, nil
}

// CanActOnZone reports whether the user's scope covers the zone.
func CanActOnZone(ctx context.Context, userId int, zoneId int) (bool, error) {
	scope, err := ResolveZoneScope(ctx, userId)
	if err != nil {
		return false, err
	}
	return scope.CanAct(zoneId), nil
}

type NewZoneAssignment struct {
	UserId int                `json:"user_id" binding:"required"`
	ZoneId int                `json:"zone_id"`
	Kind   ZoneAssignmentKind `json:"kind"`
}

// AssignZone is idempotent: re-assigning the same zone returns the existing row.
func AssignZone(ctx context.Context, input *NewZoneAssignment) (*ZoneAssignment, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	if input.Kind == "" {
		input.Kind = ZoneAssignmentKindRestricted
	}
	err := utils.ValidateResourceId[User](ctx, businessId, input.UserId)
	if err != nil {
		return nil, err
	}
	if input.Kind == ZoneAssignmentKindRestricted {
		err = utils.ValidateResourceId[Zone](ctx, businessId, input.ZoneId)
		if err != nil {
			return nil, err
		}
	} else {
		input.ZoneId = 0
	}

	assignment := ZoneAssignment{
		BusinessId: businessId,
		UserId:     input.UserId,
		ZoneId:     input.ZoneId,
		Kind:       input.Kind,
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Create(&assignment).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			var existing ZoneAssignment
			err = db.WithContext(ctx).
				Where("business_id = ? AND user_id = ? AND zone_id = ?", businessId, input.UserId, input.ZoneId).
				First(&existing).Error
			if err != nil {
				return nil, err
			}
			return &existing, nil
		}
		return nil, err
	}

	_ = ClearScopeCache(input.UserId)
	return &assignment, nil
}

func UnassignZone(ctx context.Context, userId int, zoneId int) error {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	db := config.GetDB()
	result := db.WithContext(ctx).
		Where("business_id = ? AND user_id = ? AND zone_id = ?", businessId, userId, zoneId).
		Delete(&ZoneAssignment{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}

	_ = ClearScopeCache(userId)
	return nil
}

func GetZoneAssignments(ctx context.Context, userId int) ([]*ZoneAssignment, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	db := config.GetDB()
	var assignments []*ZoneAssignment
	err := db.WithContext(ctx).
		Where("business_id = ? AND user_id = ?", businessId, userId).
		Find(&assignments).Error
	if err != nil {
		return nil, err
	}
	return assignments, nil
}
