package services

import (
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/batisoft/batifact/internal/models"
)

// testDB opens a named in-memory store; each test uses its own name so
// shared-cache handles do not leak state between tests.
func testDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	entities := []interface{}{
		&models.User{}, &models.CompanySettings{}, &models.Client{}, &models.Chantier{},
		&models.Quote{}, &models.Invoice{}, &models.Payment{},
	}
	for _, m := range entities {
		if err := gdb.AutoMigrate(m); err != nil {
			t.Fatalf("automigrate %T: %v", m, err)
		}
	}
	return gdb
}

func testQuoteService(t *testing.T, name string) *QuoteService {
	return NewQuoteService(testDB(t, name), zap.NewNop())
}

func testInvoiceService(t *testing.T, name string) *InvoiceService {
	return NewInvoiceService(testDB(t, name), zap.NewNop())
}
