// Package buildinfo holds the ldflag-overridable build identifier string
// surfaced to SECoP clients in a node's default "firmware" property (spec
// §6: "The GitHub-derived build identifier string is the only static datum
// surfaced to clients").
package buildinfo

var (
	// Version is secopd's release version, overridden by ldflags at build
	// time (e.g. -X github.com/secop-sine2020/secopd/internal/buildinfo.Version=v1.2.3).
	Version = "dev"
	// Commit is the git revision secopd was built from, set by ldflags.
	Commit = ""
)

// String renders the build identifier a node's default "firmware" property
// is seeded with: the version, plus a "+<commit>" suffix when known.
func String() string {
	if Commit == "" {
		return Version
	}
	return Version + "+" + Commit
}
