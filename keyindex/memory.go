package keyindex

import (
	"sync"

	"certanchor.dev/node/errs"
)

// MemoryIndex keeps records in process memory only.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]IndexRecord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]IndexRecord)}
}

func (m *MemoryIndex) Put(rec IndexRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.AnchorID]; ok {
		return errs.Newf(errs.ERR_ALREADY_EXISTS, "anchor %s already indexed", rec.AnchorID)
	}
	m.records[rec.AnchorID] = rec
	return nil
}

func (m *MemoryIndex) Get(anchorID string) (IndexRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[anchorID]
	if !ok {
		return IndexRecord{}, errs.Newf(errs.ERR_NOT_FOUND, "anchor %s not indexed", anchorID)
	}
	return rec, nil
}

func (m *MemoryIndex) GetAll() ([]IndexRecord, error) {
	m.mu.RLock()
	out := make([]IndexRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	m.mu.RUnlock()
	sortRecords(out)
	return out, nil
}

func (m *MemoryIndex) Clear() error {
	m.mu.Lock()
	m.records = make(map[string]IndexRecord)
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Close() error { return nil }
