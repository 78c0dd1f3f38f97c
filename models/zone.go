package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/fieldops_backend/config"
	"bitbucket.org/mmdatafocus/fieldops_backend/utils"
)

type Zone struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;size:36;not null" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Code       string    `gorm:"size:20" json:"code"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (z Zone) GetId() int {
	return z.ID
}

type NewZone struct {
	Name string `json:"name" binding:"required"`
	Code string `json:"code"`
}

func CreateZone(ctx context.Context, input *NewZone) (*Zone, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	err := utils.ValidateUnique[Zone](ctx, businessId, "name", input.Name, 0)
	if err != nil {
		return nil, err
	}

	zone := Zone{
		BusinessId: businessId,
		Name:       input.Name,
		Code:       input.Code,
		IsActive:   utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&zone).Error; err != nil {
		return nil, err
	}
	return &zone, nil
}

func GetZone(ctx context.Context, id int) (*Zone, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	return utils.FetchModel[Zone](ctx, businessId, id)
}

func GetZones(ctx context.Context) ([]*Zone, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	return utils.FetchAllModels[Zone](ctx, businessId)
}
