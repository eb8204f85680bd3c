//go:build windows

package vault

// checkDiskSpaceForWrite is a no-op on Windows.
func (s *Store) checkDiskSpaceForWrite(dataSize int) error {
	return nil
}
