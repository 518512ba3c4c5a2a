package version

import (
	"runtime"
	"runtime/debug"
)

var (
	Version = "0.3.0"
	Commit  = "unknown"
	Date    = "unknown"
)

type Info struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
}

// Resolve returns the full version string. Builds from a source tree that is
// not on a release tag carry the short VCS revision, plus "dirty" when the tree
// had local modifications.
func Resolve() string {
	return resolveVersion(Version, Commit, readBuildSettings)
}

func Current() Info {
	commit := Commit
	if commit == "unknown" {
		if rev, _ := vcsState(readBuildSettings); rev != "" {
			commit = rev
		}
	}
	return Info{
		Version:   Resolve(),
		Commit:    commit,
		Date:      Date,
		GoVersion: runtime.Version(),
	}
}

func resolveVersion(base, commit string, settings func() map[string]string) string {
	if base == "" {
		base = "0.0.0"
	}

	// Release builds stamp Commit through -ldflags.
	if commit != "" && commit != "unknown" {
		return base
	}

	rev, dirty := vcsState(settings)
	if rev == "" {
		return base
	}

	suffix := rev
	if dirty {
		suffix += "-dirty"
	}
	return base + "-" + suffix
}

func vcsState(settings func() map[string]string) (string, bool) {
	values := settings()
	rev := values["vcs.revision"]
	if len(rev) > 7 {
		rev = rev[:7]
	}
	return rev, values["vcs.modified"] == "true"
}

func readBuildSettings() map[string]string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}

	values := make(map[string]string, len(info.Settings))
	for _, setting := range info.Settings {
		values[setting.Key] = setting.Value
	}
	return values
}
