package models

import (
	"log"

	"bitbucket.org/mmdatafocus/invoice_recon/config"
)

// AllModels lists every table owned by the service, parents first.
func AllModels() []interface{} {
	return []interface{}{
		&Invoice{}, &InvoicePage{}, &InvoiceFlag{}, &InvoiceExtraction{},
		&InvoiceMerge{}, &IdempotencyKey{},
	}
}

func MigrateTable() {
	db := config.GetDB()

	if err := db.AutoMigrate(AllModels()...); err != nil {
		log.Fatal(err)
	}
}
