package db

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	// Blank imports register the postgres driver and file source for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/batisoft/batifact/internal/models"
)

// Migratable lists every entity in dependency order; shared with tests.
func Migratable() []interface{} {
	return []interface{}{
		&models.User{}, &models.CompanySettings{}, &models.Client{}, &models.Chantier{},
		&models.Quote{}, &models.Invoice{}, &models.Payment{},
	}
}

// ConnectAndMigrate opens the store with a retry loop, then either runs the
// SQL migrations (MIGRATIONS=1) or falls back to AutoMigrate for dev
// convenience, exactly in that order of preference.
func ConnectAndMigrate() (*gorm.DB, error) {
	dsn := NormalizeDSN(os.Getenv("DATABASE_DSN"))
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_DSN est vide, vérifiez la configuration de l'environnement")
	}
	var db *gorm.DB
	var err error
	logLevel := logger.Silent
	if os.Getenv("DB_DEBUG") == "1" {
		logLevel = logger.Info
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logLevel)}
	for i := 0; i < 10; i++ {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err == nil {
			break
		}
		fmt.Println("Retrying DB connection...", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect database after retries: %w", err)
	}
	if pingErr := db.Exec("SELECT 1").Error; pingErr != nil {
		return nil, fmt.Errorf("db ping failed: %w", pingErr)
	}

	// Masked DSN once for diagnostics, before migrations for visibility.
	masked := dsn
	if strings.Contains(masked, "password=") {
		re := regexp.MustCompile(`(password=)([^\s]+)`)
		masked = re.ReplaceAllString(masked, `${1}***`)
	}
	fmt.Println("[DB] Using DSN:", masked)

	if v := strings.ToLower(os.Getenv("MIGRATIONS")); v == "1" || v == "true" || v == "yes" {
		if err := runSQLMigrations(dsn); err != nil {
			return nil, fmt.Errorf("sql migrations failed: %w", err)
		}
	} else {
		for _, m := range Migratable() {
			if migErr := db.AutoMigrate(m); migErr != nil {
				return nil, fmt.Errorf("automigrate %T: %w", m, migErr)
			}
		}
	}

	for _, table := range []string{"users", "quotes", "invoices", "payments"} {
		if !db.Migrator().HasTable(table) {
			return nil, errors.New("missing table after migration: " + table)
		}
	}
	if v := strings.ToLower(os.Getenv("DB_SEED")); v == "1" || v == "true" || v == "yes" {
		seed(db)
	}
	return db, nil
}

func seed(db *gorm.DB) {
	var count int64
	if db.Model(&models.User{}).Count(&count); count > 0 {
		return
	}
	user := models.User{Email: "demo@batifact.fr", Prenom: "Démo", Nom: "Artisan"}
	if err := db.Create(&user).Error; err != nil {
		return
	}
	db.Create(&models.CompanySettings{
		UserID:        user.ID,
		RaisonSociale: "Démo Bâtiment SARL",
		Adresse:       "1 rue des Artisans",
		CodePostal:    "75011",
		Ville:         "Paris",
		SIRET:         "12345678900011",
		CouleurTheme:  "#1d4ed8",
	})
	db.Create(&models.Client{UserID: user.ID, Nom: "Client Démo", Email: "client@example.fr"})
}

// runSQLMigrations executes migrations in ./migrations using the
// golang-migrate file source.
func runSQLMigrations(dsn string) error {
	m, err := migrate.New("file://migrations", dsn)
	if err != nil {
		return err
	}
	if err = m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
