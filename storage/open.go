package storage

import "fmt"

// Open returns the backend named by backend: "badger" (default) persists
// under dataDir, "memory" keeps everything in process.
func Open(backend, dataDir string) (Storage, error) {
	switch backend {
	case "", "badger":
		return NewBadgerStorage(dataDir)
	case "memory":
		return NewMemoryStorage(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", backend)
}
