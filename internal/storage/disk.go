package storage

import (
	"os"
)

// DatabaseSizeBytes returns the on-disk size of a SQLite database, including
// its write-ahead log and shared-memory files. Missing files count as 0, so an
// in-memory database reports 0.
func DatabaseSizeBytes(dbPath string) (int64, error) {
	if dbPath == "" || dbPath == ":memory:" {
		return 0, nil
	}
	var total int64
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
