// seed-admin creates or updates the field-ops admin user (username: fieldopsAdmin).
// With -sample it also seeds a demo business layout: two zones, a supervisor
// restricted to the first zone, and a couple of points of sale.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/fieldops_backend/config"
	"bitbucket.org/mmdatafocus/fieldops_backend/models"
	"bitbucket.org/mmdatafocus/fieldops_backend/utils"
	"gorm.io/gorm"
)

const (
	adminUsername = "fieldopsAdmin"
	adminPassword = "F!eldopsAdmin"
	adminName     = "FieldOps Admin"

	supervisorUsername = "fieldopsSupervisor"
	supervisorPassword = "F!eldopsSup"
)

func main() {
	sample := flag.Bool("sample", false, "also seed demo zones, a supervisor and points of sale")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	// History hooks require business_id + user info in context.
	var biz models.Business
	err := db.WithContext(ctx).Model(&models.Business{}).First(&biz).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup business: %v\n", err)
			os.Exit(1)
		}
		created, err := models.CreateBusiness(ctx, &models.NewBusiness{
			Name:     "FieldOps Demo",
			Email:    "ops@fieldops.example",
			Country:  "Myanmar",
			City:     "Yangon",
			Timezone: "Asia/Yangon",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create business: %v\n", err)
			os.Exit(1)
		}
		biz = *created
		fmt.Printf("Created business %q (%s)\n", biz.Name, biz.ID)
	}

	businessID := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Seed")
	ctx = utils.SetUsernameInContext(ctx, adminUsername)
	ctx = utils.SetIsAdminInContext(ctx, true)
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	seedUser(ctx, db, businessID, adminUsername, adminPassword, adminName, models.UserRoleAdmin)

	if !*sample {
		return
	}

	north := seedZone(ctx, db, businessID, "North", "N01")
	south := seedZone(ctx, db, businessID, "South", "S01")

	supervisor := seedUser(ctx, db, businessID, supervisorUsername, supervisorPassword, "FieldOps Supervisor", models.UserRoleSupervisor)
	if _, err := models.AssignZone(ctx, &models.NewZoneAssignment{
		UserId: supervisor.ID,
		ZoneId: north.ID,
		Kind:   models.ZoneAssignmentKindRestricted,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to assign zone: %v\n", err)
		os.Exit(1)
	}

	seedPointOfSale(ctx, db, businessID, north.ID, "Hledan Corner Store", "Daw Mya")
	seedPointOfSale(ctx, db, businessID, south.ID, "Thanlyin Market Stall", "U Kyaw")
	fmt.Println("Seeded sample zones, supervisor and points of sale")
}

func seedUser(ctx context.Context, db *gorm.DB, businessID, username, password, name string, role models.UserRole) *models.User {
	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := models.User{
			Username:   username,
			Name:       name,
			Password:   hashedStr,
			IsActive:   utils.NewTrue(),
			Role:       role,
			BusinessId: businessID,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created user: username=%q role=%s\n", username, role.Name())
		return &u
	}

	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Updates(map[string]any{
		"password":    hashedStr,
		"name":        name,
		"is_active":   utils.NewTrue(),
		"business_id": businessID,
		"role":        role,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update user: %v\n", err)
		os.Exit(1)
	}
	_ = models.ClearScopeCache(existing.ID)
	fmt.Printf("Updated user: username=%q role=%s\n", username, role.Name())
	existing.Role = role
	return &existing
}

func seedZone(ctx context.Context, db *gorm.DB, businessID, name, code string) *models.Zone {
	var existing models.Zone
	err := db.WithContext(ctx).Where("business_id = ? AND name = ?", businessID, name).First(&existing).Error
	if err == nil {
		return &existing
	}
	zone, err := models.CreateZone(ctx, &models.NewZone{Name: name, Code: code})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create zone %q: %v\n", name, err)
		os.Exit(1)
	}
	return zone
}

func seedPointOfSale(ctx context.Context, db *gorm.DB, businessID string, zoneID int, name, owner string) {
	var count int64
	if err := db.WithContext(ctx).Model(&models.PointOfSale{}).
		Where("business_id = ? AND name = ?", businessID, name).Count(&count).Error; err == nil && count > 0 {
		return
	}
	if _, err := models.CreatePointOfSale(ctx, &models.NewPointOfSale{
		ZoneId:    zoneID,
		Name:      name,
		OwnerName: owner,
		City:      "Yangon",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create point of sale %q: %v\n", name, err)
		os.Exit(1)
	}
}
