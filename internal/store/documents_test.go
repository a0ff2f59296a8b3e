package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

func openTestStore(t *testing.T) *DocumentStore {
	t.Helper()
	store, err := Open(common.StorageConfig{
		Path: filepath.Join(t.TempDir(), "colligo-test"),
	}, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleDocument(ref, title string) models.ParsedDocument {
	return models.ParsedDocument{
		Title:         title,
		Date:          "15 March 2024",
		Source:        "The Daily",
		BodyText:      "Body text for " + title,
		WordCount:     4,
		DescriptorRef: ref,
	}
}

func TestDocumentStore_SaveAndGet(t *testing.T) {
	store := openTestStore(t)

	doc := sampleDocument("news/doc-1", "First Article")
	require.NoError(t, store.Save("scan-1", "lithium", doc))

	loaded, err := store.Get("news/doc-1")
	require.NoError(t, err)
	assert.Equal(t, "scan-1", loaded.ScanID)
	assert.Equal(t, "lithium", loaded.Keyword)
	assert.Equal(t, "First Article", loaded.Document.Title)
	assert.False(t, loaded.SavedAt.IsZero())
}

func TestDocumentStore_GetMissing(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get("news/absent")
	assert.Error(t, err)
}

func TestDocumentStore_SaveUpserts(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Save("scan-1", "lithium", sampleDocument("news/doc-1", "Old Title")))
	require.NoError(t, store.Save("scan-2", "lithium", sampleDocument("news/doc-1", "New Title")))

	count, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	loaded, err := store.Get("news/doc-1")
	require.NoError(t, err)
	assert.Equal(t, "New Title", loaded.Document.Title)
	assert.Equal(t, "scan-2", loaded.ScanID)
}

func TestDocumentStore_SaveWithoutReferenceUsesTitleKey(t *testing.T) {
	store := openTestStore(t)

	doc := sampleDocument("", "Untracked Article")
	require.NoError(t, store.Save("scan-1", "mining", doc))

	loaded, err := store.Get("title:Untracked Article")
	require.NoError(t, err)
	assert.Equal(t, "Untracked Article", loaded.Document.Title)
}

func TestDocumentStore_Has(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Save("scan-1", "lithium", sampleDocument("news/doc-1", "Article")))

	assert.True(t, store.Has("news/doc-1"))
	assert.False(t, store.Has("news/doc-2"))
}

func TestDocumentStore_ListByScan(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Save("scan-a", "k", sampleDocument("news/1", "One")))
	require.NoError(t, store.Save("scan-a", "k", sampleDocument("news/2", "Two")))
	require.NoError(t, store.Save("scan-b", "k", sampleDocument("news/3", "Three")))

	records, err := store.ListByScan("scan-a")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = store.ListByScan("scan-missing")
	require.NoError(t, err)
	assert.Empty(t, records)
}
