// Package buildinfo exposes version metadata stamped into the flowbot binary.
package buildinfo

import "strings"

// Set with -ldflags, for example:
//
//	-X 'github.com/m3rciful/flowbot/core/buildinfo.Version=v0.4.0'
//	-X 'github.com/m3rciful/flowbot/core/buildinfo.Commit=abcdef0'
//	-X 'github.com/m3rciful/flowbot/core/buildinfo.Date=2026-10-01T12:00:00Z'
var (
	Version = "dev"
	Commit  = "local"
	// Date is RFC3339 and empty for local builds.
	Date = ""
)

// String renders the build as "flowbot <version> (<commit>, <date>)", leaving
// out parts that were not stamped.
func String() string {
	var b strings.Builder
	b.WriteString("flowbot ")
	b.WriteString(orDefault(Version, "dev"))
	meta := make([]string, 0, 2)
	if Commit != "" {
		meta = append(meta, Commit)
	}
	if Date != "" {
		meta = append(meta, Date)
	}
	if len(meta) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(meta, ", "))
		b.WriteString(")")
	}
	return b.String()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
