package creatives

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func setupTestDB(t testing.TB) DBI {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), fmt.Sprintf("%s.sqlite3", filepath.Base(t.Name())))
	db, err := CreateDB(ctx, dbTypeSQLite, dbPath)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			if sqlDB, e := db.DB(); e == nil {
				_ = sqlDB.Close()
			}
		},
	)
	return NewDatabase(db, nil, false)
}

func TestRecordStore_GetPutDelete(t *testing.T) {
	ctx := context.Background()
	store := NewRecordStore[GuildSettings](setupTestDB(t))

	got, err := store.Get(ctx, Key{"guild_id": "g1"})
	require.NoError(t, err)
	assert.Nil(t, got)

	settings := defaultGuildSettings("g1")
	settings.AIEnabled = true
	settings.LinkWhitelist = datatypes.NewJSONSlice([]string{"github.com"})
	require.NoError(t, store.Put(ctx, settings))

	got, err = store.Get(ctx, Key{"guild_id": "g1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.AIEnabled)
	assert.Equal(t, []string{"github.com"}, []string(got.LinkWhitelist))

	// put again overwrites, including false/zero values
	settings.AIEnabled = false
	settings.AutomodSpam = false
	require.NoError(t, store.Put(ctx, settings))
	got, err = store.Get(ctx, Key{"guild_id": "g1"})
	require.NoError(t, err)
	assert.False(t, got.AIEnabled)
	assert.False(t, got.AutomodSpam)

	n, err := store.Delete(ctx, Key{"guild_id": "g1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = store.Get(ctx, Key{"guild_id": "g1"})
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = store.Delete(ctx, Key{})
	assert.Error(t, err)
}

func TestRecordStore_List(t *testing.T) {
	ctx := context.Background()
	store := NewRecordStore[Warning](setupTestDB(t))

	for i := 0; i < 5; i++ {
		require.NoError(
			t,
			store.Put(
				ctx,
				&Warning{GuildID: "g1", UserID: "u1", Reason: fmt.Sprintf("reason %d", i)},
			),
		)
	}
	require.NoError(t, store.Put(ctx, &Warning{GuildID: "g1", UserID: "u2", Reason: "other"}))

	warnings, err := store.List(
		ctx,
		Filter{Where: map[string]any{"guild_id": "g1", "user_id": "u1"}, Order: "id desc", Limit: 3},
	)
	require.NoError(t, err)
	require.Len(t, warnings, 3)
	assert.Equal(t, "reason 4", warnings[0].Reason)

	count, err := store.Count(ctx, map[string]any{"guild_id": "g1"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)
}

func TestRecordStore_CompositeKey(t *testing.T) {
	ctx := context.Background()
	store := NewRecordStore[UserLevel](setupTestDB(t))

	require.NoError(t, store.Put(ctx, &UserLevel{GuildID: "g1", UserID: "u1", XP: 10}))
	require.NoError(t, store.Put(ctx, &UserLevel{GuildID: "g2", UserID: "u1", XP: 99}))
	require.NoError(t, store.Put(ctx, &UserLevel{GuildID: "g1", UserID: "u1", XP: 25}))

	lvl, err := store.Get(ctx, Key{"guild_id": "g1", "user_id": "u1"})
	require.NoError(t, err)
	require.NotNil(t, lvl)
	assert.Equal(t, 25, lvl.XP)

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
