package events

import (
	"context"
	"encoding/json"
	"errors"

	"asanahooks/pkg/activity"
	"asanahooks/pkg/storage"

	"gorm.io/gorm"
)

const (
	defaultTable    = "asanahooks_events"
	defaultPageSize = 500
)

// Store implements storage.EventStore on top of GORM. Rows are insert-only.
type Store struct {
	db    *gorm.DB
	table string
	owned bool
}

type row struct {
	ID              string  `gorm:"column:id;primaryKey;size:64"`
	ProjectID       *string `gorm:"column:project_id;size:64;index:idx_events_project_id"`
	TaskID          *string `gorm:"column:task_id;size:64"`
	SubtaskID       *string `gorm:"column:subtask_id;size:64"`
	ActionType      string  `gorm:"column:action_type;size:64;not null"`
	ActorName       string  `gorm:"column:actor_name;size:255;not null"`
	TaskName        *string `gorm:"column:task_name;type:text"`
	CommentText     *string `gorm:"column:comment_text;type:text"`
	AddedUserName   *string `gorm:"column:added_user_name;size:255"`
	RemovedUserName *string `gorm:"column:removed_user_name;size:255"`
	FromSection     *string `gorm:"column:from_section;size:255"`
	ToSection       *string `gorm:"column:to_section;size:255"`
	CreatedAt       string  `gorm:"column:created_at;size:64;index:idx_events_created_at"`
	RawJSON         string  `gorm:"column:raw_json;type:text"`
}

// Open creates an events store with its own connection.
func Open(cfg storage.Config) (*Store, error) {
	db, err := storage.Open(cfg)
	if err != nil {
		return nil, err
	}
	store, err := New(db, cfg.EventsTable, cfg.AutoMigrate)
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

// InsertEvent writes a single normalized event.
func (s *Store) InsertEvent(ctx context.Context, event activity.NormalizedEvent) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if event.ID == "" {
		return errors.New("event id is required")
	}
	data := toRow(event)
	return s.tableDB().WithContext(ctx).Create(&data).Error
}

// ListEvents returns events newest first, optionally filtered by project.
// A positive Limit is honoured as given; otherwise defaultPageSize rows are returned.
func (s *Store) ListEvents(ctx context.Context, filter storage.EventFilter) ([]activity.NormalizedEvent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	query := s.tableDB().WithContext(ctx)
	if filter.ProjectID != "" {
		query = query.Where("project_id = ?", filter.ProjectID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var data []row
	err := query.
		Order("created_at desc").
		Order("id desc").
		Limit(limit).
		Find(&data).Error
	if err != nil {
		return nil, err
	}
	records := make([]activity.NormalizedEvent, 0, len(data))
	for _, item := range data {
		records = append(records, fromRow(item))
	}
	return records, nil
}

func (s *Store) migrate() error {
	return s.tableDB().AutoMigrate(&row{})
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func toRow(event activity.NormalizedEvent) row {
	return row{
		ID:              event.ID,
		ProjectID:       event.ProjectID,
		TaskID:          event.TaskID,
		SubtaskID:       event.SubtaskID,
		ActionType:      string(event.ActionType),
		ActorName:       event.ActorName,
		TaskName:        event.TaskName,
		CommentText:     event.CommentText,
		AddedUserName:   event.AddedUserName,
		RemovedUserName: event.RemovedUserName,
		FromSection:     event.FromSection,
		ToSection:       event.ToSection,
		CreatedAt:       event.CreatedAt,
		RawJSON:         string(event.RawJSON),
	}
}

func fromRow(data row) activity.NormalizedEvent {
	var raw json.RawMessage
	if data.RawJSON != "" {
		raw = json.RawMessage(data.RawJSON)
	}
	return activity.NormalizedEvent{
		ID:              data.ID,
		ProjectID:       data.ProjectID,
		TaskID:          data.TaskID,
		SubtaskID:       data.SubtaskID,
		ActionType:      activity.ActionType(data.ActionType),
		ActorName:       data.ActorName,
		TaskName:        data.TaskName,
		CommentText:     data.CommentText,
		AddedUserName:   data.AddedUserName,
		RemovedUserName: data.RemovedUserName,
		FromSection:     data.FromSection,
		ToSection:       data.ToSection,
		CreatedAt:       data.CreatedAt,
		RawJSON:         raw,
	}
}
