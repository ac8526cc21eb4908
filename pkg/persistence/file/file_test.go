package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/persistence"
	"github.com/dukex/concord/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDocumentStore(t *testing.T) {
	// Test with regular path
	store := NewDocumentStore("/tmp/test")
	assert.Equal(t, "/tmp/test", store.root)

	// Test with file:// prefix
	store = NewDocumentStore("file:///tmp/test")
	assert.Equal(t, "/tmp/test", store.root)
}

func TestDocumentStore_Suite(t *testing.T) {
	persistencetest.RunDocumentStoreSuite(t, func(t *testing.T) persistence.DocumentStore {
		return NewDocumentStore(t.TempDir())
	})
}

func TestDocumentStore_Layout(t *testing.T) {
	testDir := t.TempDir()
	store := NewDocumentStore(testDir)

	doc := &persistence.Document{
		Partition: persistence.PartitionInstances,
		ID:        "inst-1",
		Body:      []byte(`{"id":"inst-1"}`),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(t.Context(), doc))

	filePath := filepath.Join(testDir, "instances", "inst-1.json")
	_, err := os.Stat(filePath)
	require.NoError(t, err)

	_, err = os.Stat(filePath + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file must be renamed away")
}

func TestDocumentStore_CorruptDocument(t *testing.T) {
	testDir := t.TempDir()
	store := NewDocumentStore(testDir)

	require.NoError(t, os.MkdirAll(filepath.Join(testDir, "instances"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(testDir, "instances", "bad.json"), []byte("{not json"), 0o600))

	_, err := store.Read(t.Context(), "instances", "bad")
	assert.True(t, persistence.IsSerialization(err))
}

func TestDocumentStore_RejectsUnsafeIDs(t *testing.T) {
	store := NewDocumentStore(t.TempDir())

	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		err := store.Create(t.Context(), &persistence.Document{Partition: "workflows", ID: id})
		assert.ErrorIs(t, err, persistence.ErrInvalidRecordID, id)
	}
}

func TestDocumentStore_HealthCheck(t *testing.T) {
	store := NewDocumentStore(filepath.Join(t.TempDir(), "missing"))

	assert.Error(t, store.HealthCheck(t.Context()))
	assert.NoError(t, store.Close(t.Context()))
}

func TestPersistence_InstanceRevisions(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.InstanceRepository()
	ctx := t.Context()

	instance := &models.Instance{
		ID:           "inst-1",
		WorkflowID:   "wf-1",
		DefinitionID: "def-1",
		Status:       models.InstanceStatusNew,
	}

	require.NoError(t, repo.Create(ctx, instance))
	assert.Equal(t, int64(1), instance.Revision)
	assert.False(t, instance.CreatedAt.IsZero())

	stale := instance.Clone()

	instance.Status = models.InstanceStatusProcessing
	require.NoError(t, repo.Update(ctx, instance))
	assert.Equal(t, int64(2), instance.Revision)

	stale.Status = models.InstanceStatusCanceled
	err := repo.Update(ctx, stale)
	assert.True(t, persistence.IsRevisionConflict(err))

	loaded, err := repo.Read(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusProcessing, loaded.Status)
	assert.Equal(t, int64(2), loaded.Revision)

	found, err := repo.Find(ctx, persistence.Filter{"workflow_id": "wf-1"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestPersistence_DefinitionVersionIsUnique(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.DefinitionRepository()
	ctx := t.Context()

	require.NoError(t, repo.Create(ctx, &models.Definition{ID: "def-1", WorkflowID: "wf-1", Version: 1}))

	err := repo.Create(ctx, &models.Definition{ID: "def-2", WorkflowID: "wf-1", Version: 1})
	assert.True(t, persistence.IsUniqueKeyConflict(err))

	err = repo.Create(ctx, &models.Definition{ID: "def-1", WorkflowID: "wf-1", Version: 2})
	assert.True(t, persistence.IsConflict(err))
}
