package keyindex

import (
	"strings"

	"certanchor.dev/node/errs"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBolt   = "bolt"
)

// Open returns the backend named by kind. path is ignored for memory.
func Open(kind, path string, kek []byte) (Index, error) {
	switch strings.ToLower(kind) {
	case BackendMemory:
		return NewMemoryIndex(), nil
	case BackendFile:
		f, err := OpenFileIndex(path, kek)
		if err != nil {
			return nil, err
		}
		return f, nil
	case "", BackendBolt:
		b, err := OpenBoltIndex(path, kek)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, errs.Newf(errs.ERR_CONFIG, "unknown index backend %q", kind)
	}
}
