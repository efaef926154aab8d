// Package testdb opens throwaway in-memory sqlite databases carrying the
// full schema, for repository and integration tests.
package testdb

import (
	"fmt"

	customerDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/customer"
	loyaltyDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/loyalty"
	operatorDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/operator"
	paymentDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/payment"
	productDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/product"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a fresh database. The pool is pinned to one connection so that
// every query sees the same in-memory database.
func Open() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&productDatamodel.Product{},
		&paymentDatamodel.Payment{},
		&loyaltyDatamodel.Account{},
		&loyaltyDatamodel.Transaction{},
		&customerDatamodel.Customer{},
		&customerDatamodel.Activity{},
		&operatorDatamodel.Operator{},
		&operatorDatamodel.Permission{},
		&operatorDatamodel.OperatorPermission{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
