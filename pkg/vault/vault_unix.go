//go:build !windows

package vault

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// checkDiskSpaceForWrite refuses a blob write when free space is below the
// floor or below twice the payload size, whichever is larger. A failed stat
// only warns; it never blocks the write.
func (s *Store) checkDiskSpaceForWrite(dataSize int) error {
	dir := filepath.Dir(s.path)
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		if err := unix.Statfs(filepath.Dir(dir), &stat); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to check disk space: %v\n", err)
			return nil
		}
	}

	available := stat.Bavail * uint64(stat.Bsize)
	required := uint64(MinDiskSpaceBytes)
	if uint64(dataSize*2) > required {
		required = uint64(dataSize * 2)
	}

	if available < required {
		return fmt.Errorf("%w: only %d MB available, need at least %d MB",
			ErrInsufficientDisk,
			available/(1024*1024),
			required/(1024*1024))
	}
	return nil
}
