// Package version carries build metadata set via -ldflags:
//
//	go build -ldflags "-X siftsearch/internal/version.Version=v0.3.0 -X siftsearch/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

var (
	Version = "dev"
	Commit  = "none"
)

func String() string {
	return Version + " (" + Commit + ")"
}
