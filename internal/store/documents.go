package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// StoredDocument is one persisted retrieval result. Reference is the
// canonical key across scans, so re-running a keyword upserts instead of
// duplicating.
type StoredDocument struct {
	Reference string `badgerhold:"key"`
	ScanID    string `badgerholdIndex:"ScanID"`
	Keyword   string
	Document  models.ParsedDocument
	SavedAt   time.Time
}

// DocumentStore persists retrieved documents in Badger.
type DocumentStore struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// Open opens the document store, optionally wiping it first.
func Open(config common.StorageConfig, logger arbor.ILogger) (*DocumentStore, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete database directory")
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Document store initialized")

	return &DocumentStore{
		store:  store,
		logger: logger,
	}, nil
}

// Save upserts one document keyed by its reference. Documents without a
// reference fall back to a title-derived key.
func (s *DocumentStore) Save(scanID, keyword string, doc models.ParsedDocument) error {
	key := doc.DescriptorRef
	if key == "" {
		key = "title:" + doc.Title
	}

	record := StoredDocument{
		Reference: key,
		ScanID:    scanID,
		Keyword:   keyword,
		Document:  doc,
		SavedAt:   time.Now(),
	}

	if err := s.store.Upsert(key, &record); err != nil {
		return fmt.Errorf("failed to save document %s: %w", key, err)
	}
	return nil
}

// Has reports whether a document with this reference was already saved,
// in this session or an earlier one.
func (s *DocumentStore) Has(reference string) bool {
	var record StoredDocument
	return s.store.Get(reference, &record) == nil
}

// Get loads one document by reference.
func (s *DocumentStore) Get(reference string) (*StoredDocument, error) {
	var record StoredDocument
	if err := s.store.Get(reference, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("document %s not found", reference)
		}
		return nil, fmt.Errorf("failed to load document %s: %w", reference, err)
	}
	return &record, nil
}

// ListByScan returns every document saved under one scan.
func (s *DocumentStore) ListByScan(scanID string) ([]StoredDocument, error) {
	var records []StoredDocument
	if err := s.store.Find(&records, badgerhold.Where("ScanID").Eq(scanID).Index("ScanID")); err != nil {
		return nil, fmt.Errorf("failed to list documents for scan %s: %w", scanID, err)
	}
	return records, nil
}

// Count returns the total number of stored documents.
func (s *DocumentStore) Count() (int, error) {
	count, err := s.store.Count(&StoredDocument{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(count), nil
}

// Close closes the underlying database.
func (s *DocumentStore) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
