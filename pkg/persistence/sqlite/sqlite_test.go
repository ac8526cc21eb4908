package sqlite_test

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/persistence"
	"github.com/dukex/concord/pkg/persistence/persistencetest"
	"github.com/dukex/concord/pkg/persistence/sqlbase"
	"github.com/dukex/concord/pkg/persistence/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlbase.DocumentStore {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.NewDocumentStore(t.Context(), logger, "sqlite://"+filepath.Join(t.TempDir(), "concord.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, store.Close(t.Context()))
	})

	return store
}

func TestDocumentStore_Suite(t *testing.T) {
	persistencetest.RunDocumentStoreSuite(t, func(t *testing.T) persistence.DocumentStore {
		return newStore(t)
	})
}

func TestDataSource(t *testing.T) {
	assert.Equal(t, "/tmp/c.db?_busy_timeout=5000", sqlite.DataSource("sqlite:///tmp/c.db"))
	assert.Equal(t, "c.db?_busy_timeout=5000", sqlite.DataSource("sqlite:c.db"))
	assert.Equal(t, ":memory:?cache=shared", sqlite.DataSource("sqlite://:memory:?cache=shared"))
}

func TestMigrations_AreIdempotent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	url := "sqlite://" + filepath.Join(t.TempDir(), "concord.db")

	first, err := sqlite.NewDocumentStore(t.Context(), logger, url)
	require.NoError(t, err)
	require.NoError(t, first.Close(t.Context()))

	second, err := sqlite.NewDocumentStore(t.Context(), logger, url)
	require.NoError(t, err)

	defer second.Close(t.Context())

	manager := sqlbase.NewMigrationManager(logger, second.DB(), sqlite.Dialect{}, map[int]string{1: "SELECT 1"})
	version, err := manager.CurrentVersion(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestPersistence_OperationLogsByInstance(t *testing.T) {
	p := persistence.NewPersistence(newStore(t))
	repo := p.OperationLogRepository()
	ctx := t.Context()

	for _, log := range []*models.OperationLog{
		{ID: "l1", InstanceID: "inst-1", Action: models.ActionApply, OperatorID: "u1"},
		{ID: "l2", InstanceID: "inst-1", Action: models.ActionNext, OperatorID: "m1",
			Context: models.ApprovalContext{Approved: []string{"m1"}}},
		{ID: "l3", InstanceID: "inst-2", Action: models.ActionApply, OperatorID: "u2"},
	} {
		require.NoError(t, repo.Create(ctx, log))
	}

	logs, err := repo.Find(ctx, persistence.Filter{"instance_id": "inst-1"})
	require.NoError(t, err)
	require.Len(t, logs, 2)

	var withContext *models.OperationLog

	for _, log := range logs {
		if log.ID == "l2" {
			withContext = log
		}
	}

	require.NotNil(t, withContext)
	assert.IsType(t, &models.ApprovalContext{}, withContext.Context)
}
