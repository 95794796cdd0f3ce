package keyindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	atomic_file "github.com/natefinch/atomic"

	"certanchor.dev/node/errs"
)

// FileIndex is a JSON array loaded whole at open and rewritten whole,
// atomically, on every Put. Every write costs O(n); it is meant for small
// deployments and keeps the file hand-inspectable.
type FileIndex struct {
	mu      sync.Mutex
	path    string
	wrap    keyWrapper
	records map[string]storedRecord
}

// OpenFileIndex loads path, creating it (and its directory) when missing.
// A non-nil kek wraps key material before it reaches disk.
func OpenFileIndex(path string, kek []byte) (*FileIndex, error) {
	if path == "" {
		return nil, errs.New(errs.ERR_CONFIG, "index path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("keyindex: mkdir: %w", err)
	}
	f := &FileIndex{path: path, wrap: keyWrapper{kek: kek}, records: make(map[string]storedRecord)}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := f.persistLocked(); err != nil {
			return nil, err
		}
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("keyindex: read %s: %w", path, err)
	}

	var list []storedRecord
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, errs.Wrap(errs.ERR_DECODE, err, "index file "+path)
		}
	}
	for _, s := range list {
		f.records[s.AnchorID] = s
	}
	return f, nil
}

func (f *FileIndex) Put(rec IndexRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	s, err := f.wrap.seal(rec)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[rec.AnchorID]; ok {
		return errs.Newf(errs.ERR_ALREADY_EXISTS, "anchor %s already indexed", rec.AnchorID)
	}
	f.records[rec.AnchorID] = s
	if err := f.persistLocked(); err != nil {
		delete(f.records, rec.AnchorID)
		return err
	}
	return nil
}

func (f *FileIndex) Get(anchorID string) (IndexRecord, error) {
	f.mu.Lock()
	s, ok := f.records[anchorID]
	f.mu.Unlock()
	if !ok {
		return IndexRecord{}, errs.Newf(errs.ERR_NOT_FOUND, "anchor %s not indexed", anchorID)
	}
	return f.wrap.open(s)
}

func (f *FileIndex) GetAll() ([]IndexRecord, error) {
	f.mu.Lock()
	list := make([]storedRecord, 0, len(f.records))
	for _, s := range f.records {
		list = append(list, s)
	}
	f.mu.Unlock()

	out := make([]IndexRecord, 0, len(list))
	for _, s := range list {
		rec, err := f.wrap.open(s)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (f *FileIndex) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = make(map[string]storedRecord)
	return f.persistLocked()
}

func (f *FileIndex) Close() error { return nil }

func (f *FileIndex) persistLocked() error {
	list := make([]storedRecord, 0, len(f.records))
	for _, s := range f.records {
		list = append(list, s)
	}
	sortStored(list)
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("keyindex: encode: %w", err)
	}
	data = append(data, '\n')
	if err := atomic_file.WriteFile(f.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("keyindex: write %s: %w", f.path, err)
	}
	return nil
}
