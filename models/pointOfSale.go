package models

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/fieldops_backend/config"
	"bitbucket.org/mmdatafocus/fieldops_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PointOfSale is a registered PDV (point of sale) inside a zone.
type PointOfSale struct {
	ID         int                 `gorm:"primary_key" json:"id"`
	BusinessId string              `gorm:"index;size:36;not null" json:"business_id"`
	ZoneId     int                 `gorm:"index;not null" json:"zone_id"`
	Name       string              `gorm:"size:100;not null" json:"name" binding:"required"`
	OwnerName  string              `gorm:"size:100" json:"owner_name"`
	Address    string              `gorm:"type:text" json:"address"`
	City       string              `gorm:"size:100" json:"city"`
	Phone      string              `gorm:"size:20" json:"phone"`
	Latitude   decimal.NullDecimal `gorm:"type:decimal(10,7)" json:"latitude"`
	Longitude  decimal.NullDecimal `gorm:"type:decimal(10,7)" json:"longitude"`
	IsActive   *bool               `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p PointOfSale) GetId() int {
	return p.ID
}

type NewPointOfSale struct {
	ZoneId    int     `json:"zone_id" binding:"required"`
	Name      string  `json:"name" binding:"required"`
	OwnerName string  `json:"owner_name"`
	Address   string  `json:"address"`
	City      string  `json:"city"`
	Phone     string  `json:"phone"`
	Latitude  *string `json:"latitude"`
	Longitude *string `json:"longitude"`
}

// diff key -> db column of the fields a change request may touch
var pointOfSaleMutableFields = map[string]string{
	"point_name": "name",
	"owner_name": "owner_name",
	"address":    "address",
	"city":       "city",
	"phone":      "phone",
	"latitude":   "latitude",
	"longitude":  "longitude",
	"zone_id":    "zone_id",
}

func PointOfSaleMutableFields() []string {
	keys := make([]string, 0, len(pointOfSaleMutableFields))
	for key := range pointOfSaleMutableFields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func IsMutablePointOfSaleField(key string) bool {
	_, ok := pointOfSaleMutableFields[key]
	return ok
}

// FilterMutableFields maps a raw diff to db columns, dropping unknown keys.
// Ignored keys are returned in sorted order for logging.
func FilterMutableFields(diff map[string]interface{}) (map[string]interface{}, []string) {
	fields := map[string]interface{}{}
	var ignored []string
	for key, value := range diff {
		column, ok := pointOfSaleMutableFields[key]
		if !ok {
			ignored = append(ignored, key)
			continue
		}
		fields[column] = value
	}
	sort.Strings(ignored)
	return fields, ignored
}

// coerce a raw JSON diff value into the column's db type
func coercePointOfSaleValue(column string, value interface{}) (interface{}, error) {
	switch column {
	case "name", "owner_name", "address", "city", "phone":
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field %s must be a string", column)
		}
		return str, nil
	case "latitude", "longitude":
		switch v := value.(type) {
		case nil:
			return decimal.NullDecimal{}, nil
		case float64:
			return decimal.NewNullDecimal(decimal.NewFromFloat(v)), nil
		case string:
			dec, err := decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("field %s must be a decimal number", column)
			}
			return decimal.NewNullDecimal(dec), nil
		}
		return nil, fmt.Errorf("field %s must be a decimal number", column)
	case "zone_id":
		switch v := value.(type) {
		case float64:
			return int(v), nil
		case string:
			id, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("field %s must be an integer", column)
			}
			return id, nil
		}
		return nil, fmt.Errorf("field %s must be an integer", column)
	}
	return value, nil
}

func CreatePointOfSale(ctx context.Context, input *NewPointOfSale) (*PointOfSale, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	err := utils.ValidateResourceId[Zone](ctx, businessId, input.ZoneId)
	if err != nil {
		return nil, err
	}
	if input.Phone != "" {
		err = utils.ValidatePhoneNumber(input.Phone, utils.CountryCode)
		if err != nil {
			return nil, err
		}
	}

	pointOfSale := PointOfSale{
		BusinessId: businessId,
		ZoneId:     input.ZoneId,
		Name:       input.Name,
		OwnerName:  input.OwnerName,
		Address:    input.Address,
		City:       input.City,
		Phone:      input.Phone,
		IsActive:   utils.NewTrue(),
	}
	if input.Latitude != nil {
		lat, err := decimal.NewFromString(*input.Latitude)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude: %w", err)
		}
		pointOfSale.Latitude = decimal.NewNullDecimal(lat)
	}
	if input.Longitude != nil {
		lng, err := decimal.NewFromString(*input.Longitude)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude: %w", err)
		}
		pointOfSale.Longitude = decimal.NewNullDecimal(lng)
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&pointOfSale).Error; err != nil {
		return nil, err
	}
	return &pointOfSale, nil
}

func GetPointOfSale(ctx context.Context, id int) (*PointOfSale, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	return utils.FetchModel[PointOfSale](ctx, businessId, id)
}

// ApplyPointOfSaleFields writes an approved diff onto the point of sale.
// Unknown diff keys are dropped. Later writes win over earlier ones.
// Returns the number of fields written; zero means no key survived the
// allowlist and the point of sale was not touched.
func ApplyPointOfSaleFields(ctx context.Context, businessId string, id int, diff map[string]interface{}) (int, error) {
	fields, ignored := FilterMutableFields(diff)
	if len(ignored) > 0 {
		config.GetLogger().WithFields(logrus.Fields{
			"point_of_sale_id": id,
			"ignored_fields":   ignored,
		}).Warn("diff fields ignored on apply")
	}
	if len(fields) == 0 {
		return 0, nil
	}

	values := map[string]interface{}{}
	for column, raw := range fields {
		value, err := coercePointOfSaleValue(column, raw)
		if err != nil {
			return 0, err
		}
		values[column] = value
	}

	if zoneId, ok := values["zone_id"]; ok {
		err := utils.ValidateResourceId[Zone](ctx, businessId, zoneId)
		if err != nil {
			return 0, err
		}
	}

	db := config.GetDB()
	result := db.WithContext(ctx).Model(&PointOfSale{}).
		Where("business_id = ? AND id = ?", businessId, id).
		Updates(values)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		// unchanged values also report zero, so re-check existence
		err := utils.ValidateResourceId[PointOfSale](ctx, businessId, id)
		if err != nil {
			return 0, err
		}
	}
	return len(values), nil
}
