// Package version exposes the NightShift build version.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var nightshiftVersion string

// String returns the release version baked into the binary, with
// surrounding whitespace trimmed.
func String() string {
	return strings.TrimSpace(nightshiftVersion)
}
