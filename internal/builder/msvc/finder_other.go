//go:build !windows

package msvc

// NewFinder returns nil off Windows: there is no installation metadata to
// query, only VSINSTALLDIR and the default directories.
func NewFinder() Finder {
	return nil
}
