//go:build !linux

package restrict

// MaybeFileSystem is a no-op on platforms without landlock.
func MaybeFileSystem(roDirs []string, rwDirs []string) error {
	return nil
}
