// Package version carries build metadata stamped in with -ldflags.
package version

import "strings"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = ""
)

const sourceRepo = "https://github.com/deep2look/bot"

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	BuildTime  string `json:"build_time,omitempty"`
	SourceRepo string `json:"source_repo"`
}

func Current() Info {
	return Info{
		Version:    orDefault(Version, "dev"),
		Commit:     orDefault(Commit, "unknown"),
		BuildTime:  strings.TrimSpace(BuildTime),
		SourceRepo: sourceRepo,
	}
}

// String is the short form shown to admins, e.g. "1.4.0 (3f2a9c1)".
func (i Info) String() string {
	if i.Commit == "unknown" {
		return i.Version
	}
	c := i.Commit
	if len(c) > 7 {
		c = c[:7]
	}
	return i.Version + " (" + c + ")"
}

func orDefault(v, d string) string {
	if v = strings.TrimSpace(v); v == "" {
		return d
	}
	return v
}
