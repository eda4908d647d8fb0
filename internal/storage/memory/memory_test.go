package memory

import (
	"context"
	"testing"

	"github.com/rovshanmuradov/agro-ledger/internal/storage"
	"github.com/rovshanmuradov/agro-ledger/internal/storage/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalLifecycle(t *testing.T) {
	ctx := context.Background()
	j := New()

	require.NoError(t, j.SaveWrite(ctx, &models.WriteRecord{WriteID: "a", Kind: "issue", Account: "alice", Status: "pending"}))
	require.NoError(t, j.SaveWrite(ctx, &models.WriteRecord{WriteID: "b", Kind: "acquire", Account: "bob", Status: "pending"}))
	require.NoError(t, j.SaveWrite(ctx, &models.WriteRecord{WriteID: "c", Kind: "confirm_delivery", Account: "alice", Status: "pending"}))
	assert.Error(t, j.SaveWrite(ctx, &models.WriteRecord{WriteID: "a"}))

	require.NoError(t, j.UpdateWrite(ctx, "a", storage.WriteUpdate{Hash: "0x1"}))
	require.NoError(t, j.UpdateWrite(ctx, "a", storage.WriteUpdate{Status: "settled", BlockRef: 9}))

	rec, err := j.GetWrite(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "settled", rec.Status)
	assert.Equal(t, "0x1", rec.Hash)
	assert.Equal(t, uint64(9), rec.BlockRef)

	list, err := j.ListWrites(ctx, "alice", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].WriteID)

	list, err = j.ListWrites(ctx, "", 1, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].WriteID)

	_, err = j.GetWrite(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, j.UpdateWrite(ctx, "missing", storage.WriteUpdate{}), storage.ErrNotFound)
}
