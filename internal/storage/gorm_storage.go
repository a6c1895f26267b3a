package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/bher20/energybill/internal/migrate"
)

type GormStorage struct {
	db     *gorm.DB
	driver string
	now    func() time.Time
}

func NewGormStorage(driver, dsn string) (*GormStorage, error) {
	var gormDialector gorm.Dialector
	switch driver {
	case "postgres":
		gormDialector = postgres.Open(dsn)
	case "sqlite":
		if dsn == "" {
			dsn = "energybill.db"
		}
		gormDialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := gorm.Open(gormDialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	return &GormStorage{db: db, driver: driver, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Migrate creates or updates the tables backing all models. SQLite gets the
// goose schema, whose decimal columns are TEXT; the numeric tags on the
// models would give them REAL storage there.
func (s *GormStorage) Migrate(ctx context.Context) error {
	if s.driver == "sqlite" {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return migrate.UpDB(ctx, sqlDB, s.driver)
	}
	return s.db.WithContext(ctx).AutoMigrate(
		&House{},
		&Rate{},
		&Flag{},
		&Calculation{},
		&LineItem{},
	)
}

// Catalog

func (s *GormStorage) ListActiveRates(ctx context.Context) ([]Rate, error) {
	var rates []Rate
	result := s.db.WithContext(ctx).
		Where("active = ? AND deleted_at IS NULL", true).
		Order("created_at, id").
		Find(&rates)
	return rates, result.Error
}

func (s *GormStorage) GetRate(ctx context.Context, id string) (*Rate, error) {
	var rate Rate
	result := s.db.WithContext(ctx).First(&rate, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &rate, nil
}

func (s *GormStorage) UpsertRate(ctx context.Context, r Rate) error {
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "type", "value", "active", "deleted_at", "updated_at"}),
	}).Create(&r).Error
}

func (s *GormStorage) GetActiveFlag(ctx context.Context, id string) (*Flag, error) {
	var flag Flag
	result := s.db.WithContext(ctx).
		Where("id = ? AND active = ? AND deleted_at IS NULL", id, true).
		First(&flag)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &flag, nil
}

func (s *GormStorage) GetFlag(ctx context.Context, id string) (*Flag, error) {
	var flag Flag
	result := s.db.WithContext(ctx).First(&flag, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &flag, nil
}

func (s *GormStorage) UpsertFlag(ctx context.Context, f Flag) error {
	now := s.now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "consumption_reference", "additional_value", "active", "deleted_at", "updated_at",
		}),
	}).Create(&f).Error
}

func (s *GormStorage) GetHouse(ctx context.Context, id string) (*House, error) {
	var house House
	result := s.db.WithContext(ctx).First(&house, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &house, nil
}

func (s *GormStorage) UpsertHouse(ctx context.Context, h House) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = s.now()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "address"}),
	}).Create(&h).Error
}

// Calculations

func (s *GormStorage) CreatePendingCalculation(ctx context.Context, c Calculation) (*Calculation, error) {
	now := s.now()
	c.Value = decimal.NullDecimal{}
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateID
		}
		return nil, err
	}
	return &c, nil
}

func (s *GormStorage) UpdateCalculationValue(ctx context.Context, id string, value decimal.Decimal) (*Calculation, error) {
	result := s.db.WithContext(ctx).Model(&Calculation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"value":      decimal.NewNullDecimal(value),
			"updated_at": s.now(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return s.GetCalculation(ctx, id)
}

func (s *GormStorage) GetCalculation(ctx context.Context, id string) (*Calculation, error) {
	var calc Calculation
	result := s.db.WithContext(ctx).First(&calc, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &calc, nil
}

func (s *GormStorage) ListStalePending(ctx context.Context, before time.Time) ([]Calculation, error) {
	var calcs []Calculation
	result := s.db.WithContext(ctx).
		Where("value IS NULL AND created_at < ?", before.UTC()).
		Order("created_at").
		Find(&calcs)
	return calcs, result.Error
}

// Line items

func (s *GormStorage) InsertLineItem(ctx context.Context, item LineItem) (*LineItem, error) {
	item.CreatedAt = s.now()
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateID
		}
		return nil, err
	}
	return &item, nil
}

func (s *GormStorage) ListLineItems(ctx context.Context, calculationID string) ([]LineItem, error) {
	var items []LineItem
	result := s.db.WithContext(ctx).
		Where("calculation_id = ?", calculationID).
		Order("position").
		Find(&items)
	return items, result.Error
}

// Close & Ping

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Locking

func (s *GormStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.db.Dialector.Name() == "postgres" {
		var ok bool
		err := s.db.WithContext(ctx).Raw("SELECT pg_try_advisory_lock(?)", key).Scan(&ok).Error
		return ok, err
	}
	// SQLite has no advisory locks; a single instance owns the file.
	return true, nil
}

func (s *GormStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.db.Dialector.Name() == "postgres" {
		var ok bool
		err := s.db.WithContext(ctx).Raw("SELECT pg_advisory_unlock(?)", key).Scan(&ok).Error
		return ok, err
	}
	return true, nil
}
