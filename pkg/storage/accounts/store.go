package accounts

import (
	"context"
	"errors"
	"time"

	"asanahooks/pkg/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultTable = "asanahooks_accounts"

// Store implements storage.AccountStore on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
	owned bool
}

type row struct {
	ID                string     `gorm:"column:id;primaryKey;size:64"`
	ProviderAccountID string     `gorm:"column:provider_account_id;size:128;not null;uniqueIndex:idx_accounts_provider_account_id"`
	Name              string     `gorm:"column:name;size:255"`
	Email             string     `gorm:"column:email;size:255"`
	AccessToken       string     `gorm:"column:access_token;type:text"`
	RefreshToken      string     `gorm:"column:refresh_token;type:text"`
	ExpiresAt         *time.Time `gorm:"column:expires_at"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

// Open creates an accounts store with its own connection.
func Open(cfg storage.Config) (*Store, error) {
	db, err := storage.Open(cfg)
	if err != nil {
		return nil, err
	}
	store, err := New(db, cfg.AccountsTable, cfg.AutoMigrate)
	if err != nil {
		_ = storage.Close(db)
		return nil, err
	}
	store.owned = true
	return store, nil
}

// New wraps an existing connection. The caller keeps ownership of db.
func New(db *gorm.DB, table string, autoMigrate bool) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if table == "" {
		table = defaultTable
	}
	store := &Store{db: db, table: table}
	if autoMigrate {
		if err := store.migrate(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection when the store opened it.
func (s *Store) Close() error {
	if s == nil || s.db == nil || !s.owned {
		return nil
	}
	return storage.Close(s.db)
}

// UpsertAccount inserts or updates an account keyed by provider account id.
func (s *Store) UpsertAccount(ctx context.Context, record storage.AccountRecord) (storage.AccountRecord, error) {
	if s == nil || s.db == nil {
		return storage.AccountRecord{}, errors.New("store is not initialized")
	}
	if record.ProviderAccountID == "" {
		return storage.AccountRecord{}, errors.New("provider account id is required")
	}
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	data := toRow(record)
	err := s.tableDB().
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "email", "access_token", "refresh_token", "expires_at", "updated_at"}),
		}).
		Create(&data).Error
	if err != nil {
		return storage.AccountRecord{}, err
	}
	stored, err := s.GetAccountByProviderID(ctx, record.ProviderAccountID)
	if err != nil {
		return storage.AccountRecord{}, err
	}
	if stored == nil {
		return storage.AccountRecord{}, errors.New("account missing after upsert")
	}
	return *stored, nil
}

// GetAccount fetches an account by internal id. It returns nil when absent.
func (s *Store) GetAccount(ctx context.Context, id string) (*storage.AccountRecord, error) {
	return s.take(ctx, "id = ?", id)
}

// GetAccountByProviderID fetches an account by Asana user gid.
func (s *Store) GetAccountByProviderID(ctx context.Context, providerAccountID string) (*storage.AccountRecord, error) {
	return s.take(ctx, "provider_account_id = ?", providerAccountID)
}

// UpdateTokens replaces the token pair of a single account.
func (s *Store) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if id == "" {
		return errors.New("account id is required")
	}
	result := s.tableDB().
		WithContext(ctx).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_at":    expiresAt,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) take(ctx context.Context, query string, arg string) (*storage.AccountRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data row
	err := s.tableDB().
		WithContext(ctx).
		Where(query, arg).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := fromRow(data)
	return &record, nil
}

func (s *Store) migrate() error {
	return s.tableDB().AutoMigrate(&row{})
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func toRow(record storage.AccountRecord) row {
	return row{
		ID:                record.ID,
		ProviderAccountID: record.ProviderAccountID,
		Name:              record.Name,
		Email:             record.Email,
		AccessToken:       record.AccessToken,
		RefreshToken:      record.RefreshToken,
		ExpiresAt:         record.ExpiresAt,
		CreatedAt:         record.CreatedAt,
		UpdatedAt:         record.UpdatedAt,
	}
}

func fromRow(data row) storage.AccountRecord {
	return storage.AccountRecord{
		ID:                data.ID,
		ProviderAccountID: data.ProviderAccountID,
		Name:              data.Name,
		Email:             data.Email,
		AccessToken:       data.AccessToken,
		RefreshToken:      data.RefreshToken,
		ExpiresAt:         data.ExpiresAt,
		CreatedAt:         data.CreatedAt,
		UpdatedAt:         data.UpdatedAt,
	}
}
