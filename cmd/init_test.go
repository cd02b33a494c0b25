package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/creative812/Creatives-bot/creatives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func mockPasswords(t *testing.T, passwords ...string) {
	t.Helper()
	i := 0
	customPasswordReader = func() ([]byte, error) {
		if i >= len(passwords) {
			return nil, errors.New("no more passwords")
		}
		p := passwords[i]
		i++
		return []byte(p), nil
	}
	t.Cleanup(func() { customPasswordReader = nil })
}

func TestInitCommand(t *testing.T) {
	isolateEnv(t)
	dbPath := filepath.Join(t.TempDir(), "test.db")
	t.Setenv("CB_DATABASE_TYPE", "sqlite")
	t.Setenv("CB_DATABASE", dbPath)
	mockPasswords(t, "mismatch", "testpassword", "testpassword", "testpassword")

	output, err := execute(t, "testadmin\n", "init")
	require.NoError(t, err)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")

	assert.Contains(t, output, "Admin credentials are not set. Let's set them up.")
	assert.Contains(t, output, "Enter admin username:")
	assert.Contains(t, output, "Passwords do not match")
	assert.Contains(t, output, "Admin credentials set successfully")
	assert.Contains(t, output, "Initialization complete")

	db, err := gorm.Open(sqlite.Open(dbPath))
	require.NoError(t, err)
	t.Cleanup(
		func() {
			if sqlDB, _ := db.DB(); sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)

	state, err := creatives.LoadBotState(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "testadmin", state.AdminUsername)
	assert.NotEqual(t, "testpassword", state.AdminPassword)
	valid, err := creatives.VerifyPassword(state.AdminPassword, "testpassword")
	require.NoError(t, err)
	assert.True(t, valid)

	mg := db.Migrator()
	for _, model := range []any{
		&creatives.BotState{},
		&creatives.GuildSettings{},
		&creatives.Ticket{},
		&creatives.TicketSettings{},
		&creatives.Warning{},
		&creatives.UserLevel{},
		&creatives.ChannelMessage{},
		&creatives.InteractionLog{},
	} {
		assert.True(t, mg.HasTable(model), "%T", model)
	}

	// a second run leaves the credentials alone
	output, err = execute(t, "", "init")
	require.NoError(t, err)
	assert.Contains(t, output, "Admin credentials are already set.")
}

func TestInitCommand_PasswordMismatch(t *testing.T) {
	isolateEnv(t)
	t.Setenv("CB_DATABASE_TYPE", "sqlite")
	t.Setenv("CB_DATABASE", filepath.Join(t.TempDir(), "test.db"))
	mockPasswords(t, "a", "b", "a", "b", "a", "b")

	_, err := execute(t, "testadmin\n", "init")
	assert.ErrorIs(t, err, errPasswordMismatch)
}

func TestInitCommand_RequiresUsername(t *testing.T) {
	isolateEnv(t)
	t.Setenv("CB_DATABASE_TYPE", "sqlite")
	t.Setenv("CB_DATABASE", filepath.Join(t.TempDir(), "test.db"))
	mockPasswords(t)

	_, err := execute(t, "\n", "init")
	assert.Error(t, err)
}
