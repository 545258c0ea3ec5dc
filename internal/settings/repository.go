package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Repository persists the merged settings between restarts.
type Repository interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

type MemoryRepository struct {
	mu sync.Mutex
	s  Settings
}

func NewMemoryRepository(initial Settings) *MemoryRepository {
	return &MemoryRepository{s: initial}
}

func (m *MemoryRepository) Load(context.Context) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, nil
}

func (m *MemoryRepository) Save(_ context.Context, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}

// settingsRow is the single stored row. ID is always 1.
type settingsRow struct {
	ID        uint `gorm:"primaryKey"`
	Data      datatypes.JSON
	UpdatedAt time.Time
}

func (settingsRow) TableName() string { return "overlay_settings" }

type GormRepository struct {
	db *gorm.DB
}

// OpenPostgres connects with the given DSN and migrates the settings table.
func OpenPostgres(dsn string) (*GormRepository, error) {
	if dsn == "" {
		return nil, errors.New("database url is empty")
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewGormRepository(conn)
}

func NewGormRepository(conn *gorm.DB) (*GormRepository, error) {
	if conn == nil {
		return nil, errors.New("db connection is nil")
	}
	if err := conn.AutoMigrate(&settingsRow{}); err != nil {
		return nil, fmt.Errorf("migrate settings: %w", err)
	}
	return &GormRepository{db: conn}, nil
}

func (r *GormRepository) Load(ctx context.Context) (Settings, error) {
	var row settingsRow
	err := r.db.WithContext(ctx).First(&row, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Default(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(row.Data, &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

func (r *GormRepository) Save(ctx context.Context, s Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	row := settingsRow{ID: 1, Data: datatypes.JSON(data), UpdatedAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
