// Package creds persists WhatsApp pairing credentials, one directory per
// phone number. The directory holds creds.json (the exported, transferable
// record) next to the protocol library's own device database; the
// directory's existence is the contract behind the /status endpoint.
package creds

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Record is the serialized authentication material for one phone number.
// Opaque to the session manager beyond exists/load/save.
type Record struct {
	JID      string    `json:"jid"`
	Platform string    `json:"platform"`
	PairedAt time.Time `json:"paired_at"`
	Blob     []byte    `json:"blob,omitempty"`
}

const recordFile = "creds.json"

// Store is the persistence contract consumed by the session manager.
type Store interface {
	// Exists reports whether a persisted record exists for number,
	// independent of any live session.
	Exists(number string) bool
	// Load returns the record for number, or nil when absent.
	Load(number string) (*Record, error)
	// Save writes the record atomically; a concurrent reader never
	// observes a partial write.
	Save(number string, rec *Record) error
	// Seed overwrites any existing record for number with an externally
	// supplied base64-encoded record, bypassing the pairing flow.
	Seed(number string, blobB64 string) error
	// Export returns the record serialized as a base64 blob suitable for
	// Seed on another host.
	Export(number string) (string, error)
	// Delete removes the record for number. Used when the protocol client
	// reports an authentication-failure close.
	Delete(number string) error
	// Dir returns the per-number directory, creating it if needed.
	Dir(number string) (string, error)
}

// FileStore implements Store on a local directory tree.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (f *FileStore) path(number string) string {
	return filepath.Join(f.root, number, recordFile)
}

func (f *FileStore) Dir(number string) (string, error) {
	dir := filepath.Join(f.root, number)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create credential dir: %w", err)
	}
	return dir, nil
}

func (f *FileStore) Exists(number string) bool {
	_, err := os.Stat(f.path(number))
	return err == nil
}

func (f *FileStore) Load(number string) (*Record, error) {
	data, err := os.ReadFile(f.path(number))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credential record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse credential record: %w", err)
	}
	return &rec, nil
}

func (f *FileStore) Save(number string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential record: %w", err)
	}
	return f.writeAtomic(number, data)
}

func (f *FileStore) Seed(number string, blobB64 string) error {
	data, err := base64.StdEncoding.DecodeString(blobB64)
	if err != nil {
		return fmt.Errorf("decode seed blob: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("seed blob is not a credential record: %w", err)
	}
	return f.writeAtomic(number, data)
}

func (f *FileStore) Export(number string) (string, error) {
	data, err := os.ReadFile(f.path(number))
	if err != nil {
		return "", fmt.Errorf("read credential record: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (f *FileStore) Delete(number string) error {
	err := os.Remove(f.path(number))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete credential record: %w", err)
	}
	return nil
}

// writeAtomic writes data to the record path via a temp file + rename, so a
// partially written record is never visible.
func (f *FileStore) writeAtomic(number string, data []byte) error {
	if _, err := f.Dir(number); err != nil {
		return err
	}
	target := f.path(number)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential record: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit credential record: %w", err)
	}
	return nil
}
