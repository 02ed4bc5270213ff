package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docchat/internal/service"
)

type fakePruner struct {
	cutoff int64
	err    error
}

func (f *fakePruner) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	f.cutoff = cutoff
	return 3, f.err
}

func TestEmbeddingCacheCleanupCutoff(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	pruner := &fakePruner{}
	j := NewEmbeddingCacheCleanupJob(pruner, 0)
	j.now = func() time.Time { return now }
	require.Equal(t, "embedding_cache_cleanup", j.Name())
	require.NoError(t, j.Run(context.Background()))
	require.Equal(t, now.Add(-30*24*time.Hour).Unix(), pruner.cutoff)

	j = NewEmbeddingCacheCleanupJob(&fakePruner{err: errors.New("db down")}, 7)
	require.Error(t, j.Run(context.Background()))

	require.NoError(t, NewEmbeddingCacheCleanupJob(nil, 1).Run(context.Background()))
}

type fakeRepairer struct {
	summary *service.RepairSummary
	err     error
}

func (f *fakeRepairer) RepairAll(ctx context.Context) (*service.RepairSummary, error) {
	return f.summary, f.err
}

func TestIndexRepairJob(t *testing.T) {
	j := NewIndexRepairJob(&fakeRepairer{summary: &service.RepairSummary{Scanned: 2, Repaired: 1, Failed: 1}})
	require.Equal(t, "index_repair", j.Name())
	require.NoError(t, j.Run(context.Background()))

	j = NewIndexRepairJob(&fakeRepairer{summary: &service.RepairSummary{}, err: context.Canceled})
	require.ErrorIs(t, j.Run(context.Background()), context.Canceled)
}
