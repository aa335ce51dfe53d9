package models

import (
	"log"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Contact{}, &HsCode{}, &HsCodeTax{},
		&Operation{}, &ScheduledPayment{},
		&CashMovement{},
		&Invoice{},
		&LedgerEventRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
