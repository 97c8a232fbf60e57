package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsage is the on-disk size of the database and the keyword index.
type DiskUsage struct {
	DatabaseBytes     int64 `json:"database_bytes"`
	KeywordIndexBytes int64 `json:"keyword_index_bytes"`
	TotalBytes        int64 `json:"total_bytes"`
}

// MeasureDiskUsage sums the size of the database (with its WAL files) and the index directory.
// Missing paths count as zero.
func MeasureDiskUsage(databasePath, keywordIndexPath string) (*DiskUsage, error) {
	var u DiskUsage
	for _, p := range []string{databasePath, databasePath + "-wal", databasePath + "-shm"} {
		n, err := pathSize(p)
		if err != nil {
			return nil, err
		}
		u.DatabaseBytes += n
	}
	n, err := pathSize(keywordIndexPath)
	if err != nil {
		return nil, err
	}
	u.KeywordIndexBytes = n
	u.TotalBytes = u.DatabaseBytes + u.KeywordIndexBytes
	return &u, nil
}

func pathSize(p string) (int64, error) {
	if p == "" {
		return 0, nil
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
