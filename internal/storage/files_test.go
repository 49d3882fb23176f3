package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pahproject/catalogdb/pkg/types"
)

func TestInsertFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateFilesTable(ctx))

	records := []types.FileRecord{
		{Prefix: "01234a123", Band: "1"},
		{Prefix: "01234a123", Band: "2"},
		{Prefix: "xxxxxxxxx", Band: "t"},
	}

	var progress []int
	require.NoError(t, store.InsertFiles(ctx, records, func(done int) {
		progress = append(progress, done)
	}))

	assert.Equal(t, []int{1, 2, 3}, progress)
	assert.Equal(t, int64(1), records[0].ID)
	assert.Equal(t, int64(3), records[2].ID)

	files, err := store.ListFiles(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, records, files)

	// Digit bands take integer affinity, anything else is kept as text
	var bandType string
	require.NoError(t, store.db.QueryRow("SELECT typeof(band) FROM files WHERE id = 1").Scan(&bandType))
	assert.Equal(t, "integer", bandType)
	require.NoError(t, store.db.QueryRow("SELECT typeof(band) FROM files WHERE id = 3").Scan(&bandType))
	assert.Equal(t, "text", bandType)
}

func TestInsertFiles_RollsBackOnFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// No files table yet: the prepare fails and nothing is written
	err := store.InsertFiles(ctx, []types.FileRecord{{Prefix: "01234a123", Band: "1"}}, nil)
	assert.Error(t, err)

	require.NoError(t, store.CreateFilesTable(ctx))
	count, err := store.CountRows(ctx, "files")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestListFiles_Paging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedFiles(t, store,
		types.FileRecord{Prefix: "a00000001", Band: "1"},
		types.FileRecord{Prefix: "a00000002", Band: "2"},
		types.FileRecord{Prefix: "a00000003", Band: "3"},
	)

	page, err := store.ListFiles(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a00000002", page[0].Prefix)
	assert.Equal(t, "a00000003", page[1].Prefix)
}
