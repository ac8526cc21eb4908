// Package persistencetest holds the behaviour every DocumentStore backend must share.
package persistencetest

import (
	"testing"
	"time"

	"github.com/dukex/concord/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func document(partition, id, body string, keys ...string) *persistence.Document {
	doc := &persistence.Document{
		Partition: partition,
		ID:        id,
		Body:      []byte(body),
		CreatedAt: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
	}

	copy(doc.UniqueKeys[:], keys)

	return doc
}

// RunDocumentStoreSuite exercises a store created fresh by newStore for each subtest.
func RunDocumentStoreSuite(t *testing.T, newStore func(t *testing.T) persistence.DocumentStore) {
	t.Helper()

	t.Run("create and read", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		doc := document("instances", "inst-1", `{"id":"inst-1","workflow_id":"wf-1"}`)
		require.NoError(t, store.Create(ctx, doc))
		assert.Equal(t, int64(1), doc.Revision)

		read, err := store.Read(ctx, "instances", "inst-1")
		require.NoError(t, err)
		assert.Equal(t, "inst-1", read.ID)
		assert.Equal(t, int64(1), read.Revision)
		assert.JSONEq(t, `{"id":"inst-1","workflow_id":"wf-1"}`, string(read.Body))
		assert.True(t, read.CreatedAt.Equal(doc.CreatedAt))
	})

	t.Run("missing document", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		_, err := store.Read(ctx, "instances", "nope")
		assert.True(t, persistence.IsNotFound(err))

		doc, err := store.ReadOrNil(ctx, "instances", "nope")
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("duplicate id is an id conflict", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		require.NoError(t, store.Create(ctx, document("workflows", "wf-1", `{"id":"wf-1"}`)))

		err := store.Create(ctx, document("workflows", "wf-1", `{"id":"wf-1"}`))
		require.Error(t, err)
		assert.True(t, persistence.IsConflict(err))
		assert.True(t, persistence.IsIDConflict(err))
		assert.False(t, persistence.IsUniqueKeyConflict(err))
	})

	t.Run("shared unique key is a unique key conflict", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		require.NoError(t, store.Create(ctx, document("definitions", "def-1", `{"id":"def-1"}`, "wf-1#1")))

		err := store.Create(ctx, document("definitions", "def-2", `{"id":"def-2"}`, "wf-1#1"))
		require.Error(t, err)
		assert.True(t, persistence.IsConflict(err))
		assert.True(t, persistence.IsUniqueKeyConflict(err))

		var conflict *persistence.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "wf-1#1", conflict.Keys["unique_key_1"])
		assert.Equal(t, "def-2", conflict.Keys["unique_key_2"])
	})

	t.Run("partitions are isolated", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		require.NoError(t, store.Create(ctx, document("workflows", "same", `{"id":"same"}`)))
		require.NoError(t, store.Create(ctx, document("instances", "same", `{"id":"same"}`)))
	})

	t.Run("update checks the revision", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		doc := document("instances", "inst-1", `{"status":"NEW"}`)
		require.NoError(t, store.Create(ctx, doc))

		update := document("instances", "inst-1", `{"status":"PROCESSING"}`)
		update.Revision = 1
		update.UpdatedAt = doc.UpdatedAt.Add(time.Minute)
		require.NoError(t, store.Update(ctx, update))
		assert.Equal(t, int64(2), update.Revision)

		stale := document("instances", "inst-1", `{"status":"REJECTED"}`)
		stale.Revision = 1
		err := store.Update(ctx, stale)
		assert.True(t, persistence.IsRevisionConflict(err))

		read, err := store.Read(ctx, "instances", "inst-1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"PROCESSING"}`, string(read.Body))
		assert.True(t, read.CreatedAt.Equal(doc.CreatedAt), "update keeps the creation time")

		err = store.Update(ctx, document("instances", "ghost", `{}`))
		assert.True(t, persistence.IsNotFound(err))
	})

	t.Run("update cannot steal a unique key", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		require.NoError(t, store.Create(ctx, document("definitions", "def-1", `{}`, "wf-1#1")))
		require.NoError(t, store.Create(ctx, document("definitions", "def-2", `{}`, "wf-1#2")))

		err := store.Update(ctx, document("definitions", "def-2", `{}`, "wf-1#1"))
		assert.True(t, persistence.IsUniqueKeyConflict(err))
	})

	t.Run("upsert inserts then replaces", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		doc := document("workflows", "wf-1", `{"name":"first"}`)
		require.NoError(t, store.Upsert(ctx, doc))
		assert.Equal(t, int64(1), doc.Revision)

		again := document("workflows", "wf-1", `{"name":"second"}`)
		require.NoError(t, store.Upsert(ctx, again))
		assert.Equal(t, int64(2), again.Revision)

		read, err := store.Read(ctx, "workflows", "wf-1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"second"}`, string(read.Body))
	})

	t.Run("delete", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		require.NoError(t, store.Create(ctx, document("instances", "inst-1", `{}`)))
		require.NoError(t, store.Delete(ctx, "instances", "inst-1"))

		doc, err := store.ReadOrNil(ctx, "instances", "inst-1")
		require.NoError(t, err)
		assert.Nil(t, doc)

		err = store.Delete(ctx, "instances", "inst-1")
		assert.True(t, persistence.IsNotFound(err))
	})

	t.Run("find filters on body fields in creation order", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		first := document("instances", "b", `{"workflow_id":"wf-1","status":"NEW"}`)
		second := document("instances", "a", `{"workflow_id":"wf-1","status":"PROCESSING"}`)
		second.CreatedAt = first.CreatedAt.Add(time.Second)
		other := document("instances", "c", `{"workflow_id":"wf-2","status":"NEW"}`)

		for _, doc := range []*persistence.Document{first, second, other} {
			require.NoError(t, store.Create(ctx, doc))
		}

		docs, err := store.Find(ctx, "instances", persistence.Filter{"workflow_id": "wf-1"})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "b", docs[0].ID)
		assert.Equal(t, "a", docs[1].ID)

		docs, err = store.Find(ctx, "instances", persistence.Filter{"workflow_id": "wf-1", "status": "NEW"})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "b", docs[0].ID)

		docs, err = store.Find(ctx, "instances", nil)
		require.NoError(t, err)
		assert.Len(t, docs, 3)

		docs, err = store.Find(ctx, "workflows", nil)
		require.NoError(t, err)
		assert.Empty(t, docs)

		_, err = store.Find(ctx, "instances", persistence.Filter{"body'; --": "x"})
		assert.ErrorIs(t, err, persistence.ErrInvalidFilterField)
	})

	t.Run("health check", func(t *testing.T) {
		store := newStore(t)

		assert.NoError(t, store.HealthCheck(t.Context()))
	})
}
