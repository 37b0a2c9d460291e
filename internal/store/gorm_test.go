package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgaz9/screenly/internal/domain"
	"github.com/dgaz9/screenly/internal/store/schema"
)

// newTestStore opens a fresh SQLite database in a per-test temp dir
func newTestStore(t *testing.T) (Store, *gormStore) {
	t.Helper()

	db, err := Open("sqlite", filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	s := &gormStore{db: db}
	return s, s
}

// buildTestAsset creates a webpage asset input with a fresh id
func buildTestAsset(name string) *domain.Asset {
	return &domain.Asset{
		AssetID:   domain.NewAssetID(),
		Name:      name,
		URI:       "https://example.com/" + name,
		Mimetype:  domain.MimetypeWebpage,
		Duration:  10,
		IsEnabled: true,
	}
}

func TestCreateAsset(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns play_order at the end of the playlist", func(t *testing.T) {
		s, _ := newTestStore(t)

		first, err := s.CreateAsset(ctx, buildTestAsset("first"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), first.PlayOrder)
		assert.False(t, first.CreatedAt.IsZero())

		second, err := s.CreateAsset(ctx, buildTestAsset("second"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), second.PlayOrder)
	})

	t.Run("rejects duplicate asset ids", func(t *testing.T) {
		s, _ := newTestStore(t)

		asset := buildTestAsset("dup")
		_, err := s.CreateAsset(ctx, asset)
		require.NoError(t, err)

		_, err = s.CreateAsset(ctx, asset)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("round-trips metadata and window dates", func(t *testing.T) {
		s, _ := newTestStore(t)

		start := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
		end := time.Date(2026, 8, 31, 17, 0, 0, 0, time.UTC)
		asset := buildTestAsset("windowed")
		asset.StartDate = &start
		asset.EndDate = &end
		asset.Metadata = domain.AssetMetadata{SourceURI: "https://example.com/src.mp4"}

		created, err := s.CreateAsset(ctx, asset)
		require.NoError(t, err)

		got, err := s.GetAsset(ctx, created.AssetID)
		require.NoError(t, err)
		require.NotNil(t, got.StartDate)
		require.NotNil(t, got.EndDate)
		assert.True(t, got.StartDate.Equal(start))
		assert.True(t, got.EndDate.Equal(end))
		assert.Equal(t, "https://example.com/src.mp4", got.Metadata.SourceURI)
	})
}

func TestGetAsset(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	created, err := s.CreateAsset(ctx, buildTestAsset("lookup"))
	require.NoError(t, err)

	t.Run("existing asset", func(t *testing.T) {
		got, err := s.GetAsset(ctx, created.AssetID)
		require.NoError(t, err)
		assert.Equal(t, created.AssetID, got.AssetID)
		assert.Equal(t, "lookup", got.Name)
	})

	t.Run("unknown asset", func(t *testing.T) {
		_, err := s.GetAsset(ctx, domain.NewAssetID())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestListAssets(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	names := []string{"a", "b", "c"}
	for _, name := range names {
		_, err := s.CreateAsset(ctx, buildTestAsset(name))
		require.NoError(t, err)
	}

	assets, err := s.ListAssets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 3)
	for i, asset := range assets {
		assert.Equal(t, names[i], asset.Name)
		assert.Equal(t, int64(i), asset.PlayOrder)
	}
}

func TestUpdateAsset(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces mutable fields and keeps play_order", func(t *testing.T) {
		s, _ := newTestStore(t)

		_, err := s.CreateAsset(ctx, buildTestAsset("head"))
		require.NoError(t, err)
		created, err := s.CreateAsset(ctx, buildTestAsset("tail"))
		require.NoError(t, err)
		require.Equal(t, int64(1), created.PlayOrder)

		created.Name = "renamed"
		created.Duration = 42
		created.IsEnabled = false
		created.NoCache = true
		created.PlayOrder = 99 // must be ignored

		updated, err := s.UpdateAsset(ctx, created)
		require.NoError(t, err)
		assert.Equal(t, "renamed", updated.Name)
		assert.Equal(t, int64(42), updated.Duration)
		assert.False(t, updated.IsEnabled)
		assert.True(t, updated.NoCache)
		assert.Equal(t, int64(1), updated.PlayOrder)

		got, err := s.GetAsset(ctx, created.AssetID)
		require.NoError(t, err)
		assert.False(t, got.IsEnabled)
		assert.Equal(t, int64(1), got.PlayOrder)
	})

	t.Run("unknown asset", func(t *testing.T) {
		s, _ := newTestStore(t)

		_, err := s.UpdateAsset(ctx, buildTestAsset("ghost"))
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestDeleteAsset(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	created, err := s.CreateAsset(ctx, buildTestAsset("doomed"))
	require.NoError(t, err)

	deleted, err := s.DeleteAsset(ctx, created.AssetID)
	require.NoError(t, err)
	assert.Equal(t, created.AssetID, deleted.AssetID)
	assert.Equal(t, created.URI, deleted.URI)

	_, err = s.GetAsset(ctx, created.AssetID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.DeleteAsset(ctx, created.AssetID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaveOrdering(t *testing.T) {
	ctx := context.Background()

	// seed creates assets named a..d and returns their ids by name
	seed := func(t *testing.T, s Store) map[string]string {
		t.Helper()
		ids := make(map[string]string)
		for _, name := range []string{"a", "b", "c", "d"} {
			created, err := s.CreateAsset(ctx, buildTestAsset(name))
			require.NoError(t, err)
			ids[name] = created.AssetID
		}
		return ids
	}

	listNames := func(t *testing.T, s Store) []string {
		t.Helper()
		assets, err := s.ListAssets(ctx)
		require.NoError(t, err)
		names := make([]string, 0, len(assets))
		for _, asset := range assets {
			names = append(names, asset.Name)
		}
		return names
	}

	t.Run("full permutation", func(t *testing.T) {
		s, _ := newTestStore(t)
		ids := seed(t, s)

		err := s.SaveOrdering(ctx, []string{ids["d"], ids["b"], ids["a"], ids["c"]})
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "b", "a", "c"}, listNames(t, s))
	})

	t.Run("omitted assets keep their relative order after the listed ones", func(t *testing.T) {
		s, _ := newTestStore(t)
		ids := seed(t, s)

		err := s.SaveOrdering(ctx, []string{ids["d"], ids["b"]})
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "b", "a", "c"}, listNames(t, s))
	})

	t.Run("unknown and repeated ids are ignored", func(t *testing.T) {
		s, _ := newTestStore(t)
		ids := seed(t, s)

		err := s.SaveOrdering(ctx, []string{
			domain.NewAssetID(), ids["c"], ids["c"], "", ids["a"],
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "a", "b", "d"}, listNames(t, s))

		// ranks stay dense after the rewrite
		assets, err := s.ListAssets(ctx)
		require.NoError(t, err)
		for i, asset := range assets {
			assert.Equal(t, int64(i), asset.PlayOrder)
		}
	})

	t.Run("a failure mid-rewrite leaves the prior ordering intact", func(t *testing.T) {
		s, raw := newTestStore(t)
		ids := seed(t, s)

		// Abort the transaction when the rewrite reaches asset d. The
		// permutation below touches a and c first, so the failure lands
		// after earlier rank updates have already been applied in-tx.
		trigger := fmt.Sprintf(`
			CREATE TRIGGER interrupt_reorder
			BEFORE UPDATE OF play_order ON assets
			WHEN NEW.asset_id = '%s'
			BEGIN
				SELECT RAISE(ABORT, 'reorder interrupted');
			END`, ids["d"])
		require.NoError(t, raw.db.Exec(trigger).Error)

		err := s.SaveOrdering(ctx, []string{ids["d"], ids["b"], ids["a"], ids["c"]})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStorage)

		require.NoError(t, raw.db.Exec(`DROP TRIGGER interrupt_reorder`).Error)

		assert.Equal(t, []string{"a", "b", "c", "d"}, listNames(t, s))
		assets, err := s.ListAssets(ctx)
		require.NoError(t, err)
		for i, asset := range assets {
			assert.Equal(t, int64(i), asset.PlayOrder)
		}
	})

	t.Run("empty ordering keeps current order", func(t *testing.T) {
		s, _ := newTestStore(t)
		seed(t, s)

		err := s.SaveOrdering(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, listNames(t, s))
	})
}

func TestCompleteResolution(t *testing.T) {
	ctx := context.Background()

	newPlaceholder := func(t *testing.T, s Store, enabled bool) *domain.Asset {
		t.Helper()
		asset := buildTestAsset("pending")
		asset.Mimetype = domain.MimetypeRemoteVideo
		asset.URI = "https://example.com/video"
		asset.Duration = 0
		asset.IsProcessing = true
		asset.IsEnabled = enabled
		asset.Metadata = domain.AssetMetadata{SourceURI: asset.URI}

		created, err := s.CreateAsset(ctx, asset)
		require.NoError(t, err)
		return created
	}

	t.Run("writes resolved media and clears is_processing", func(t *testing.T) {
		s, _ := newTestStore(t)
		placeholder := newPlaceholder(t, s, true)

		resolvedAt := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
		updated, err := s.CompleteResolution(ctx, ResolutionUpdate{
			AssetID:  placeholder.AssetID,
			Name:     "video.mp4",
			URI:      "/data/screenly_assets/" + placeholder.AssetID,
			Mimetype: domain.MimetypeVideo,
			Duration: 95,
			Metadata: domain.AssetMetadata{
				SourceURI:  "https://example.com/video",
				ResolvedAt: &resolvedAt,
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "video.mp4", updated.Name)
		assert.Equal(t, "/data/screenly_assets/"+placeholder.AssetID, updated.URI)
		assert.Equal(t, domain.MimetypeVideo, updated.Mimetype)
		assert.Equal(t, int64(95), updated.Duration)
		assert.False(t, updated.IsProcessing)
		assert.True(t, updated.IsEnabled)
		assert.Equal(t, "https://example.com/video", updated.Metadata.SourceURI)
	})

	t.Run("keeps the current name when none is supplied", func(t *testing.T) {
		s, _ := newTestStore(t)
		placeholder := newPlaceholder(t, s, true)

		updated, err := s.CompleteResolution(ctx, ResolutionUpdate{
			AssetID:  placeholder.AssetID,
			URI:      "/data/screenly_assets/" + placeholder.AssetID,
			Mimetype: domain.MimetypeVideo,
			Duration: 12,
		})
		require.NoError(t, err)
		assert.Equal(t, "pending", updated.Name)
	})

	t.Run("does not re-enable an asset paused during resolution", func(t *testing.T) {
		s, _ := newTestStore(t)
		placeholder := newPlaceholder(t, s, false)

		updated, err := s.CompleteResolution(ctx, ResolutionUpdate{
			AssetID:  placeholder.AssetID,
			URI:      "/data/screenly_assets/" + placeholder.AssetID,
			Mimetype: domain.MimetypeVideo,
			Duration: 12,
		})
		require.NoError(t, err)
		assert.False(t, updated.IsEnabled)
		assert.False(t, updated.IsProcessing)
	})

	t.Run("unknown asset", func(t *testing.T) {
		s, _ := newTestStore(t)

		_, err := s.CompleteResolution(ctx, ResolutionUpdate{AssetID: domain.NewAssetID()})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestFailResolution(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	asset := buildTestAsset("broken")
	asset.Mimetype = domain.MimetypeRemoteVideo
	asset.IsProcessing = true
	asset.Metadata = domain.AssetMetadata{SourceURI: "https://example.com/broken"}

	created, err := s.CreateAsset(ctx, asset)
	require.NoError(t, err)

	require.NoError(t, s.FailResolution(ctx, created.AssetID, "download failed"))

	got, err := s.GetAsset(ctx, created.AssetID)
	require.NoError(t, err)
	assert.False(t, got.IsProcessing)
	assert.False(t, got.IsEnabled)
	assert.Equal(t, "download failed", got.Metadata.FailureReason)
	// existing metadata survives the failure merge
	assert.Equal(t, "https://example.com/broken", got.Metadata.SourceURI)

	assert.ErrorIs(t, s.FailResolution(ctx, domain.NewAssetID(), "x"), domain.ErrNotFound)
}

func TestListStaleProcessing(t *testing.T) {
	ctx := context.Background()
	s, raw := newTestStore(t)

	stale := buildTestAsset("stale")
	stale.IsProcessing = true
	staleCreated, err := s.CreateAsset(ctx, stale)
	require.NoError(t, err)

	fresh := buildTestAsset("fresh")
	fresh.IsProcessing = true
	_, err = s.CreateAsset(ctx, fresh)
	require.NoError(t, err)

	settled := buildTestAsset("settled")
	_, err = s.CreateAsset(ctx, settled)
	require.NoError(t, err)

	// Backdate the stale asset past the cutoff
	backdated := time.Now().Add(-2 * time.Hour)
	require.NoError(t, raw.db.Model(&schema.Asset{}).
		Where("asset_id = ?", staleCreated.AssetID).
		UpdateColumn("updated_at", backdated).Error)

	got, err := s.ListStaleProcessing(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, staleCreated.AssetID, got[0].AssetID)
}

func TestReplaceCatalog(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for _, name := range []string{"old-1", "old-2"} {
		_, err := s.CreateAsset(ctx, buildTestAsset(name))
		require.NoError(t, err)
	}

	createdAt := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	snapshot := []domain.Asset{
		{
			AssetID:   domain.NewAssetID(),
			Name:      "restored",
			URI:       "https://example.com/restored",
			Mimetype:  domain.MimetypeWebpage,
			Duration:  30,
			IsEnabled: true,
			PlayOrder: 7,
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		},
	}

	require.NoError(t, s.ReplaceCatalog(ctx, snapshot))

	assets, err := s.ListAssets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "restored", assets[0].Name)
	assert.Equal(t, int64(7), assets[0].PlayOrder)
	assert.True(t, assets[0].CreatedAt.Equal(createdAt))

	t.Run("empty snapshot clears the catalog", func(t *testing.T) {
		require.NoError(t, s.ReplaceCatalog(ctx, nil))
		assets, err := s.ListAssets(ctx)
		require.NoError(t, err)
		assert.Empty(t, assets)
	})
}
