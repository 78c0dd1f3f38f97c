package models

import (
	"log"

	"bitbucket.org/mmdatafocus/fieldops_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{},
		&Zone{}, &ZoneAssignment{},
		&PointOfSale{},
		&ChangeRequest{},
		&History{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
