package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolmanlume/aubrowser/internal/database"
	"github.com/coolmanlume/aubrowser/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func candidate(key, name string) models.CandidateItem {
	return models.CandidateItem{
		Key:        key,
		Name:       name,
		Version:    "1.0",
		BundlePath: "/plugins/" + name + ".auplug",
		Descriptor: models.ComponentDescriptor{Type: 0x61756678, Subtype: 0x64656c79, Manufacturer: 0x61636d65},
	}
}

func TestUpsertCandidatesPreservesFirstSeen(t *testing.T) {
	st := openTestStore(t)

	first := candidate("aufx_00000001", "Delay")
	first.FirstSeen = 1000
	require.NoError(t, st.UpsertCandidates([]models.CandidateItem{first}))

	// A later session re-enumerates the same item with no FirstSeen set.
	again := candidate("aufx_00000001", "Delay Renamed")
	require.NoError(t, st.UpsertCandidates([]models.CandidateItem{again}))

	got, err := st.GetCandidate("aufx_00000001")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.FirstSeen, "FirstSeen must survive re-upsert")
	assert.Equal(t, "Delay Renamed", got.Name, "other fields must be refreshed")
}

func TestUpsertCandidatesStampsNewItems(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.UpsertCandidates([]models.CandidateItem{candidate("aufx_00000002", "Reverb")}))

	got, err := st.GetCandidate("aufx_00000002")
	require.NoError(t, err)
	assert.Greater(t, got.FirstSeen, int64(0), "new items get a first-seen stamp")
}

func TestDueSetVersioning(t *testing.T) {
	st := openTestStore(t)

	noArtifact := candidate("aufx_00000010", "Fresh")
	stale := candidate("aufx_00000011", "Stale")
	current := candidate("aufx_00000012", "Current")

	require.NoError(t, st.UpsertArtifact(models.Artifact{ItemKey: stale.Key, Path: "a.jpg", Version: 1}))
	require.NoError(t, st.UpsertArtifact(models.Artifact{ItemKey: current.Key, Path: "b.jpg", Version: 2}))

	due, err := st.DueSet([]models.CandidateItem{noArtifact, stale, current}, 2)
	require.NoError(t, err)

	dueKeys := make([]string, len(due))
	for i, d := range due {
		dueKeys[i] = d.Key
	}
	assert.ElementsMatch(t, []string{noArtifact.Key, stale.Key}, dueKeys)
}

func TestAttemptLogIsAppendOnly(t *testing.T) {
	st := openTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, st.WriteAttempt(models.AttemptRecord{
			ItemKey:   "aufx_00000020",
			SessionID: "s1",
			Status:    models.StatusFailed,
			Reason:    models.ReasonCrash,
			Timestamp: int64(100 + i),
		}))
	}

	recs, err := st.ListAttempts("aufx_00000020")
	require.NoError(t, err)
	require.Len(t, recs, 3, "attempts accumulate, never replace")
	for i := 1; i < len(recs); i++ {
		assert.LessOrEqual(t, recs[i-1].Timestamp, recs[i].Timestamp, "attempts sorted oldest first")
	}
	for _, rec := range recs {
		assert.NotEmpty(t, rec.ID, "attempt IDs are assigned on write")
	}
}

func TestAttemptLogDoesNotLeakAcrossItemsWithSharedPrefix(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.WriteAttempt(models.AttemptRecord{ItemKey: "aufx_1", Status: models.StatusSuccess, Timestamp: 1}))
	require.NoError(t, st.WriteAttempt(models.AttemptRecord{ItemKey: "aufx_12", Status: models.StatusFailed, Reason: models.ReasonCrash, Timestamp: 2}))

	recs, err := st.ListAttempts("aufx_1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.StatusSuccess, recs[0].Status)
}

func TestMarkAbsentCascades(t *testing.T) {
	st := openTestStore(t)

	keep := candidate("aufx_00000030", "Keeper")
	gone := candidate("aufx_00000031", "Goner")
	require.NoError(t, st.UpsertCandidates([]models.CandidateItem{keep, gone}))
	require.NoError(t, st.UpsertArtifact(models.Artifact{ItemKey: gone.Key, Path: "gone.jpg", Version: 2}))
	require.NoError(t, st.WriteAttempt(models.AttemptRecord{ItemKey: gone.Key, Status: models.StatusSuccess, Timestamp: 1}))
	require.NoError(t, st.WriteAttempt(models.AttemptRecord{ItemKey: keep.Key, Status: models.StatusSuccess, Timestamp: 1}))

	require.NoError(t, st.MarkAbsent(map[string]struct{}{keep.Key: {}}))

	_, err := st.GetCandidate(gone.Key)
	assert.ErrorIs(t, err, database.ErrNotFound, "candidate row removed")
	_, err = st.GetArtifact(gone.Key)
	assert.ErrorIs(t, err, database.ErrNotFound, "artifact row cascaded")
	recs, err := st.ListAttempts(gone.Key)
	require.NoError(t, err)
	assert.Empty(t, recs, "attempt log cascaded")

	// The kept item is untouched.
	_, err = st.GetCandidate(keep.Key)
	assert.NoError(t, err)
	recs, err = st.ListAttempts(keep.Key)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestUpsertArtifactReplaces(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.UpsertArtifact(models.Artifact{ItemKey: "aufx_00000040", Path: "old.jpg", Width: 100, Version: 1}))
	require.NoError(t, st.UpsertArtifact(models.Artifact{ItemKey: "aufx_00000040", Path: "new.jpg", Width: 680, Version: 2}))

	art, err := st.GetArtifact("aufx_00000040")
	require.NoError(t, err)
	assert.Equal(t, "new.jpg", art.Path)
	assert.Equal(t, 680, art.Width)
	assert.Equal(t, 2, art.Version)

	arts, err := st.ListArtifacts()
	require.NoError(t, err)
	assert.Len(t, arts, 1, "at most one artifact row per item")
}

func TestDeleteArtifactMakesItemDueAgain(t *testing.T) {
	st := openTestStore(t)

	item := candidate("aufx_00000050", "Broken")
	require.NoError(t, st.UpsertArtifact(models.Artifact{ItemKey: item.Key, Path: "x.jpg", Version: 2}))
	require.NoError(t, st.DeleteArtifact(item.Key))
	require.NoError(t, st.DeleteArtifact(item.Key), "deleting an absent row is not an error")

	due, err := st.DueSet([]models.CandidateItem{item}, 2)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestListCandidatesSortedByName(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.UpsertCandidates([]models.CandidateItem{
		candidate("aufx_00000060", "zeta"),
		candidate("aufx_00000061", "Alpha"),
		candidate("aufx_00000062", "midway"),
	}))

	items, err := st.ListCandidates()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "Alpha", items[0].Name)
	assert.Equal(t, "midway", items[1].Name)
	assert.Equal(t, "zeta", items[2].Name)
}

func TestStats(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.UpsertCandidates([]models.CandidateItem{
		candidate("aufx_00000070", "One"),
		candidate("aufx_00000071", "Two"),
	}))
	require.NoError(t, st.UpsertArtifact(models.Artifact{ItemKey: "aufx_00000070", Path: "p.jpg", Version: 2}))
	require.NoError(t, st.WriteAttempt(models.AttemptRecord{ItemKey: "aufx_00000070", Status: models.StatusSuccess, Timestamp: 1}))
	require.NoError(t, st.WriteAttempt(models.AttemptRecord{ItemKey: "aufx_00000071", Status: models.StatusFailed, Reason: models.ReasonHang, Timestamp: 2}))

	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{Candidates: 2, Artifacts: 1, Attempts: 2}, stats)
}
