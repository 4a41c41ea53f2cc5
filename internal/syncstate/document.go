package syncstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	documentFilePerms = 0o600
	documentDirPerms  = 0o700
)

// DocumentPersister keeps all state in one JSON document on disk, the
// layout a host application's plugin data file would use. Every mutation
// rewrites the whole document atomically.
type DocumentPersister struct {
	path string

	mu  sync.Mutex
	doc *Document
}

// NewDocumentPersister returns a persister for the JSON document at path.
// The file is created on the first write.
func NewDocumentPersister(path string) *DocumentPersister {
	return &DocumentPersister{path: path}
}

// Load reads the document. A missing file yields an empty document.
func (p *DocumentPersister) Load(_ context.Context) (*Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc := newDocument()

	data, err := os.ReadFile(p.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("syncstate: reading %s: %w", p.path, err)
	default:
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("syncstate: decoding %s: %w", p.path, err)
		}

		if doc.FileStates == nil {
			doc.FileStates = make(map[string]FileSyncState)
		}
	}

	p.doc = doc

	return cloneDocument(doc), nil
}

// PutState records st under path and rewrites the document.
func (p *DocumentPersister) PutState(_ context.Context, path string, st FileSyncState) error {
	return p.update(func(d *Document) { d.FileStates[path] = st })
}

// PutLastSync records the last pass time and rewrites the document.
func (p *DocumentPersister) PutLastSync(_ context.Context, ms int64) error {
	return p.update(func(d *Document) { d.LastSyncTime = Int64Ptr(ms) })
}

// PutScopes replaces the scopes and rewrites the document.
func (p *DocumentPersister) PutScopes(_ context.Context, scopes []Scope) error {
	return p.update(func(d *Document) { d.Scopes = append([]Scope(nil), scopes...) })
}

// Clear drops file states and the last sync time, keeping scopes.
func (p *DocumentPersister) Clear(_ context.Context) error {
	return p.update(func(d *Document) {
		d.FileStates = make(map[string]FileSyncState)
		d.LastSyncTime = nil
	})
}

// Close is a no-op; every write is already durable.
func (p *DocumentPersister) Close() error {
	return nil
}

func (p *DocumentPersister) update(fn func(*Document)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.doc == nil {
		p.doc = newDocument()
	}

	next := cloneDocument(p.doc)
	fn(next)

	if err := writeAtomic(p.path, next); err != nil {
		return err
	}

	p.doc = next

	return nil
}

func cloneDocument(d *Document) *Document {
	out := &Document{
		FileStates: make(map[string]FileSyncState, len(d.FileStates)),
		Scopes:     append([]Scope(nil), d.Scopes...),
	}

	for k, v := range d.FileStates {
		out.FileStates[k] = v
	}

	if d.LastSyncTime != nil {
		out.LastSyncTime = Int64Ptr(*d.LastSyncTime)
	}

	return out
}

// writeAtomic writes doc to a temp file in the target directory, syncs it,
// and renames it over path.
func writeAtomic(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("syncstate: encoding document: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, documentDirPerms); err != nil {
		return fmt.Errorf("syncstate: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("syncstate: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, documentFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("syncstate: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("syncstate: writing document: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncstate: syncing document: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("syncstate: closing document: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("syncstate: renaming document: %w", err)
	}

	success = true

	return nil
}
