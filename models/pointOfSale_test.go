package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFilterMutableFieldsDropsUnknownKeys(t *testing.T) {
	diff := map[string]interface{}{
		"address":     "12 Hledan Rd",
		"legacy_flag": true,
	}

	fields, ignored := FilterMutableFields(diff)

	if len(fields) != 1 {
		t.Fatalf("expected 1 mutable field, got %d", len(fields))
	}
	if fields["address"] != "12 Hledan Rd" {
		t.Fatalf("expected address to survive filtering, got %#v", fields)
	}
	if len(ignored) != 1 || ignored[0] != "legacy_flag" {
		t.Fatalf("expected legacy_flag to be ignored, got %#v", ignored)
	}
}

func TestFilterMutableFieldsMapsDiffKeysToColumns(t *testing.T) {
	diff := map[string]interface{}{
		"point_name": "Kiosk 42",
		"zone_id":    float64(7),
	}

	fields, ignored := FilterMutableFields(diff)

	if len(ignored) != 0 {
		t.Fatalf("expected no ignored keys, got %#v", ignored)
	}
	if fields["name"] != "Kiosk 42" {
		t.Fatalf("expected point_name to map to name column, got %#v", fields)
	}
	if fields["zone_id"] != float64(7) {
		t.Fatalf("expected zone_id to pass through, got %#v", fields)
	}
}

func TestFilterMutableFieldsEmptyDiff(t *testing.T) {
	fields, ignored := FilterMutableFields(map[string]interface{}{})
	if len(fields) != 0 || len(ignored) != 0 {
		t.Fatalf("expected empty result for empty diff, got %#v / %#v", fields, ignored)
	}
}

func TestCoercePointOfSaleValueStrings(t *testing.T) {
	got, err := coercePointOfSaleValue("owner_name", "Daw Mya")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Daw Mya" {
		t.Fatalf("expected string to pass through, got %#v", got)
	}

	if _, err := coercePointOfSaleValue("phone", 95512345); err == nil {
		t.Fatal("expected error for non-string phone")
	}
}

func TestCoercePointOfSaleValueCoordinates(t *testing.T) {
	got, err := coercePointOfSaleValue("latitude", 16.8409)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lat, ok := got.(decimal.NullDecimal)
	if !ok || !lat.Valid {
		t.Fatalf("expected valid NullDecimal, got %#v", got)
	}
	if !lat.Decimal.Equal(decimal.NewFromFloat(16.8409)) {
		t.Fatalf("expected 16.8409, got %s", lat.Decimal)
	}

	got, err = coercePointOfSaleValue("longitude", "96.1735")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lng := got.(decimal.NullDecimal)
	if !lng.Valid || !lng.Decimal.Equal(decimal.RequireFromString("96.1735")) {
		t.Fatalf("expected 96.1735, got %#v", got)
	}

	got, err = coercePointOfSaleValue("latitude", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleared := got.(decimal.NullDecimal); cleared.Valid {
		t.Fatalf("expected null coordinate for nil value, got %#v", cleared)
	}

	if _, err := coercePointOfSaleValue("latitude", "north-ish"); err == nil {
		t.Fatal("expected error for unparseable coordinate")
	}
}

func TestCoercePointOfSaleValueZoneId(t *testing.T) {
	got, err := coercePointOfSaleValue("zone_id", float64(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 3 {
		t.Fatalf("expected int 3, got %#v", got)
	}

	got, err = coercePointOfSaleValue("zone_id", "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 5 {
		t.Fatalf("expected int 5, got %#v", got)
	}

	if _, err := coercePointOfSaleValue("zone_id", "north"); err == nil {
		t.Fatal("expected error for non-numeric zone_id")
	}
}

func TestPointOfSaleMutableFieldsIsStable(t *testing.T) {
	keys := PointOfSaleMutableFields()
	if len(keys) != len(pointOfSaleMutableFields) {
		t.Fatalf("expected %d keys, got %d", len(pointOfSaleMutableFields), len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("expected sorted keys, got %v", keys)
		}
	}
	if !IsMutablePointOfSaleField("point_name") {
		t.Fatal("point_name should be mutable")
	}
	if IsMutablePointOfSaleField("id") {
		t.Fatal("id must never be mutable")
	}
}
