package models

import (
	"log"

	"github.com/mmdatafocus/crm_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Pipeline{}, &Stage{},
		&Deal{},
		&Account{},
		&DealEventRecord{},
		&DealChangeLog{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
