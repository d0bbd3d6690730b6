package vault

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sternforth/vantage/internal/config"
)

// contentKey is the row shape of every per-service key table.
type contentKey struct {
	KID string `gorm:"column:kid;primaryKey;size:32"`
	Key string `gorm:"column:key_;size:64"`
}

var tableNameRe = regexp.MustCompile(`[^a-z0-9_]`)

// tableName maps a service tag to its key table. One table per service.
func tableName(service string) string {
	return tableNameRe.ReplaceAllString(strings.ToLower(service), "_")
}

// SQL is a key vault backed by SQLite or MySQL through gorm.
type SQL struct {
	name string
	db   *gorm.DB
}

// NewSQLite opens (or creates) a SQLite vault at path.
func NewSQLite(name, path string) (*SQL, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite vault %s: %w", name, err)
	}
	return &SQL{name: name, db: db}, nil
}

// NewMySQL connects to a MySQL vault.
func NewMySQL(cfg config.KeyVaultConfig) (*SQL, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening mysql vault %s: %w", cfg.Name, err)
	}
	return &SQL{name: cfg.Name, db: db}, nil
}

func (v *SQL) Name() string { return v.name }

func (v *SQL) table(ctx context.Context, service string) (*gorm.DB, error) {
	name := tableName(service)
	if !v.db.Migrator().HasTable(name) {
		if err := v.db.WithContext(ctx).Table(name).AutoMigrate(&contentKey{}); err != nil {
			return nil, fmt.Errorf("creating key table %s: %w", name, err)
		}
	}
	return v.db.WithContext(ctx).Table(name), nil
}

// GetKey returns the key for a kid, or "" when the vault has no entry.
func (v *SQL) GetKey(ctx context.Context, service, kid string) (string, error) {
	name := tableName(service)
	if !v.db.Migrator().HasTable(name) {
		return "", nil
	}

	var row contentKey
	err := v.db.WithContext(ctx).Table(name).Where("kid = ?", NormalizeKID(kid)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Key, nil
}

// GetKeys returns every key stored for a service.
func (v *SQL) GetKeys(ctx context.Context, service string) (map[string]string, error) {
	name := tableName(service)
	keys := make(map[string]string)
	if !v.db.Migrator().HasTable(name) {
		return keys, nil
	}

	var rows []contentKey
	if err := v.db.WithContext(ctx).Table(name).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		keys[row.KID] = row.Key
	}
	return keys, nil
}

// AddKey inserts one key, reporting false when the kid already exists.
func (v *SQL) AddKey(ctx context.Context, service, kid, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	table, err := v.table(ctx, service)
	if err != nil {
		return false, err
	}

	kid = NormalizeKID(kid)
	var existing contentKey
	err = table.Where("kid = ?", kid).Take(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	if err := table.Create(&contentKey{KID: kid, Key: key}).Error; err != nil {
		return false, err
	}
	return true, nil
}

// AddKeys inserts many keys, returning the number newly stored.
func (v *SQL) AddKeys(ctx context.Context, service string, keys map[string]string) (int, error) {
	inserted := 0
	for kid, key := range keys {
		ok, err := v.AddKey(ctx, service, kid, key)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// Services lists the service tags with a key table.
func (v *SQL) Services(ctx context.Context) ([]string, error) {
	_ = ctx
	tables, err := v.db.Migrator().GetTables()
	if err != nil {
		return nil, err
	}
	return tables, nil
}
