package clientkit

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("storage.database.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("storage.database.empty_database_url")
	errSQLiteEmptyPath     = errors.New("storage.database.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("storage.database.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("storage.database.unsupported_no_scheme")
)

// sessionRecordKey is the single row holding the persisted session. Exactly
// one Session exists per running client, so the table is a one-row mirror.
const sessionRecordKey = "session"

// DatabaseStorage persists the session record in a relational database
// using GORM. Postgres and SQLite URLs are supported; SQLite uses the
// pure-Go glebarez driver.
type DatabaseStorage struct {
	db          *gorm.DB
	driverLabel string
}

type sessionRecord struct {
	RecordKey   string `gorm:"column:record_key;primaryKey"`
	Payload     []byte `gorm:"column:payload;not null"`
	UpdatedUnix int64  `gorm:"column:updated_unix;not null"`
}

func (sessionRecord) TableName() string {
	return "session_records"
}

// Driver exposes the selected database driver label.
func (storage *DatabaseStorage) Driver() string {
	return storage.driverLabel
}

// NewDatabaseStorage constructs a GORM-backed Storage from a database URL.
func NewDatabaseStorage(databaseURL string) (*DatabaseStorage, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("storage.database.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, resolveErr := resolveDialector(databaseURL)
	if resolveErr != nil {
		return nil, resolveErr
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("storage.database.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.AutoMigrate(&sessionRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("storage.database.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStorage{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Get reads the persisted session record.
func (storage *DatabaseStorage) Get() ([]byte, bool, error) {
	var record sessionRecord
	err := storage.db.Where("record_key = ?", sessionRecordKey).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storage.database.get.%s: %w", storage.driverLabel, err)
	}
	return record.Payload, true, nil
}

// Set overwrites the persisted session record.
func (storage *DatabaseStorage) Set(data []byte) error {
	record := sessionRecord{
		RecordKey:   sessionRecordKey,
		Payload:     data,
		UpdatedUnix: time.Now().UTC().Unix(),
	}
	err := storage.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_unix"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("storage.database.set.%s: %w", storage.driverLabel, err)
	}
	return nil
}

// Remove deletes the persisted session record; an absent record is not an
// error.
func (storage *DatabaseStorage) Remove() error {
	result := storage.db.Where("record_key = ?", sessionRecordKey).Delete(&sessionRecord{})
	if result.Error != nil {
		return fmt.Errorf("storage.database.remove.%s: %w", storage.driverLabel, result.Error)
	}
	return nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, parseErr := url.Parse(databaseURL)
	if parseErr != nil {
		return nil, "", fmt.Errorf("storage.database.parse_url: %w", parseErr)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("storage.database.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("storage.database.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("storage.database.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
