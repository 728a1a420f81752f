package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// ledgerSidecars are the files SQLite keeps next to the database in WAL mode.
var ledgerSidecars = []string{"", "-wal", "-shm"}

// DiskUsage is the on-disk footprint of the local stores.
type DiskUsage struct {
	LedgerBytes int64 `json:"ledger_bytes"`
	VectorBytes int64 `json:"vector_bytes"`
}

// Total returns the combined size of the ledger and the vector snapshot.
func (u DiskUsage) Total() int64 {
	return u.LedgerBytes + u.VectorBytes
}

// MeasureDiskUsage sizes the source ledger at ledgerPath, including its WAL
// files, and the in-memory vector snapshot at vectorPath, which may be a file
// or a directory. Empty or missing paths count as zero.
func MeasureDiskUsage(ledgerPath, vectorPath string) (DiskUsage, error) {
	var usage DiskUsage
	if ledgerPath != "" {
		for _, suffix := range ledgerSidecars {
			n, err := pathSize(ledgerPath + suffix)
			if err != nil {
				return DiskUsage{}, err
			}
			usage.LedgerBytes += n
		}
	}
	if vectorPath != "" {
		n, err := pathSize(vectorPath)
		if err != nil {
			return DiskUsage{}, err
		}
		usage.VectorBytes = n
	}
	return usage, nil
}

func pathSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
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
