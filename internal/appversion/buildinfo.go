// Package appversion carries the build-time version stamp for the
// ouroboros binaries.
package appversion

// version and commit are set at build time via -ldflags.
var (
	version = "dev"    //nolint:gochecknoglobals // ldflags requires package-level var
	commit  = "none"   //nolint:gochecknoglobals // ldflags requires package-level var
)

// String returns the current version.
func String() string {
	return version
}

// Commit returns the source revision the binary was built from.
func Commit() string {
	return commit
}
