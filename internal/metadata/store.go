package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/keyward/keyward/internal/logging"
)

// Store persists the whole key-metadata record set as a single JSON file.
// Reads never fail: an absent, empty, or invalid file is a recoverable
// condition and yields an empty record set. Writes validate the full set
// first and take a best-effort timestamped backup into archive/.
//
// The mutex serializes in-process read-modify-write cycles. There is no
// cross-process locking; a single operational caller is assumed.
type Store struct {
	path      string
	validator *Validator
	logger    *logging.Logger
	mu        sync.RWMutex
}

// NewStore creates a store backed by the JSON file at path.
func NewStore(path string, validator *Validator, logger *logging.Logger) *Store {
	return &Store{
		path:      path,
		validator: validator,
		logger:    logger,
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// ReadAll loads every record. An absent, empty, or corrupt file is logged
// and treated as an empty record set; ReadAll never returns an error.
func (s *Store) ReadAll() map[string]*KeyMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readAllLocked()
}

func (s *Store) readAllLocked() map[string]*KeyMetadata {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read metadata file %s: %v", s.path, err)
		}
		return map[string]*KeyMetadata{}
	}

	if len(data) == 0 {
		s.logger.Debug("Metadata file %s is empty", s.path)
		return map[string]*KeyMetadata{}
	}

	if err := s.validator.ValidateDocument(data); err != nil {
		s.logger.Warn("Metadata file %s failed validation, starting from an empty record set: %v", s.path, err)
		return map[string]*KeyMetadata{}
	}

	var records map[string]*KeyMetadata
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("Metadata file %s failed to decode, starting from an empty record set: %v", s.path, err)
		return map[string]*KeyMetadata{}
	}
	return records
}

// WriteAll validates and persists the full record set. On validation
// failure the file is left untouched. A best-effort backup of the previous
// file is taken first; backup failure is logged but never blocks the write.
func (s *Store) WriteAll(records map[string]*KeyMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAllLocked(records)
}

func (s *Store) writeAllLocked(records map[string]*KeyMetadata) error {
	if err := s.validator.ValidateRecords(records); err != nil {
		return fmt.Errorf("refusing to write invalid metadata: %w", err)
	}

	s.backupExisting()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	return nil
}

// backupExisting copies the current metadata file into an archive/
// subdirectory next to it. Failures are swallowed after logging.
func (s *Store) backupExisting() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Skipping metadata backup, cannot read %s: %v", s.path, err)
		}
		return
	}

	archiveDir := filepath.Join(filepath.Dir(s.path), "archive")
	if err := os.MkdirAll(archiveDir, 0700); err != nil {
		s.logger.Warn("Skipping metadata backup, cannot create %s: %v", archiveDir, err)
		return
	}

	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(time.Now().UTC().Format(time.RFC3339))
	name := fmt.Sprintf("%s.backup-%s", filepath.Base(s.path), stamp)
	backupPath := filepath.Join(archiveDir, name)

	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		s.logger.Warn("Failed to write metadata backup %s: %v", backupPath, err)
		return
	}
	s.logger.Debug("Backed up metadata to %s", backupPath)
}

// UpdateKey replaces (or inserts) a single record via read-modify-write.
func (s *Store) UpdateKey(keyName string, record *KeyMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.readAllLocked()
	records[keyName] = record
	return s.writeAllLocked(records)
}

// RemoveKey deletes a single record via read-modify-write. Removing an
// absent key is a no-op.
func (s *Store) RemoveKey(keyName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.readAllLocked()
	if _, ok := records[keyName]; !ok {
		return nil
	}
	delete(records, keyName)
	return s.writeAllLocked(records)
}
