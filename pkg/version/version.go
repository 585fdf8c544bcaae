package version

import "fmt"

// Version, GitCommit and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/greenloop-systems/gardend/pkg/version.Version=v1.0.0 \
//	  -X github.com/greenloop-systems/gardend/pkg/version.GitCommit=abc1234 \
//	  -X github.com/greenloop-systems/gardend/pkg/version.BuildDate=2026-01-01"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info renders a one-line version string for the CLI's version command.
func Info() string {
	return fmt.Sprintf("gardend %s (%s, built %s)", Version, GitCommit, BuildDate)
}
