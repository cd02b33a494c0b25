package creatives

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Key selects a record by column values, usually its primary key.
type Key map[string]any

// Filter narrows List results. Zero values mean no constraint.
type Filter struct {
	Where  map[string]any
	Order  string
	Limit  int
	Offset int
}

// RecordStore persists one model type. Writes go through the DBI write
// path and are visible to subsequent reads from the same process.
type RecordStore[T any] struct {
	db DBI
}

func NewRecordStore[T any](db DBI) *RecordStore[T] {
	return &RecordStore[T]{db: db}
}

// Get returns the record matching key, or nil if there is none.
func (s *RecordStore[T]) Get(ctx context.Context, key Key) (*T, error) {
	var rec T
	err := s.db.DB().WithContext(ctx).Where(map[string]any(key)).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Put inserts rec, or updates every column of the existing row with the
// same primary key.
func (s *RecordStore[T]) Put(ctx context.Context, rec *T) error {
	return s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
		},
	)
}

// Delete permanently removes records matching key, and returns the
// number removed.
func (s *RecordStore[T]) Delete(ctx context.Context, key Key) (int64, error) {
	if len(key) == 0 {
		return 0, errors.New("refusing to delete without a key")
	}
	var rec T
	var n int64
	err := s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			rv := tx.Unscoped().Where(map[string]any(key)).Delete(&rec)
			n = rv.RowsAffected
			return rv.Error
		},
	)
	return n, err
}

func (s *RecordStore[T]) List(ctx context.Context, f Filter) ([]T, error) {
	q := s.db.DB().WithContext(ctx)
	if len(f.Where) > 0 {
		q = q.Where(f.Where)
	}
	if f.Order != "" {
		q = q.Order(f.Order)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var out []T
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RecordStore[T]) Count(ctx context.Context, where map[string]any) (int64, error) {
	var n int64
	var rec T
	q := s.db.DB().WithContext(ctx).Model(&rec)
	if len(where) > 0 {
		q = q.Where(where)
	}
	err := q.Count(&n).Error
	return n, err
}

// Stores groups the record stores used by the bot.
type Stores struct {
	Settings         *RecordStore[GuildSettings]
	DisabledCommands *RecordStore[DisabledCommand]
	ChannelMessages  *RecordStore[ChannelMessage]
	Warnings         *RecordStore[Warning]
	ModLogs          *RecordStore[ModLog]
	TicketSettings   *RecordStore[TicketSettings]
	Tickets          *RecordStore[Ticket]
	Levels           *RecordStore[UserLevel]
	InteractionLogs  *RecordStore[InteractionLog]
	Giveaways        *RecordStore[Giveaway]
	GiveawayEntries  *RecordStore[GiveawayEntry]
	SelfRoles        *RecordStore[SelfRole]
}

func NewStores(db DBI) *Stores {
	return &Stores{
		Settings:         NewRecordStore[GuildSettings](db),
		DisabledCommands: NewRecordStore[DisabledCommand](db),
		ChannelMessages:  NewRecordStore[ChannelMessage](db),
		Warnings:         NewRecordStore[Warning](db),
		ModLogs:          NewRecordStore[ModLog](db),
		TicketSettings:   NewRecordStore[TicketSettings](db),
		Tickets:          NewRecordStore[Ticket](db),
		Levels:           NewRecordStore[UserLevel](db),
		InteractionLogs:  NewRecordStore[InteractionLog](db),
		Giveaways:        NewRecordStore[Giveaway](db),
		GiveawayEntries:  NewRecordStore[GiveawayEntry](db),
		SelfRoles:        NewRecordStore[SelfRole](db),
	}
}
