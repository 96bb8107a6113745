package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockFile_WaitsForHolder(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "lore.db")

	held, err := lockFile(context.Background(), dbPath)
	require.NoError(t, err)
	require.FileExists(t, dbPath+".migrate.lock")

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = lockFile(ctx, dbPath)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlockFile(held)
	again, err := lockFile(context.Background(), dbPath)
	require.NoError(t, err)
	unlockFile(again)
	unlockFile(nil)
}
