package version

import (
	"runtime/debug"
	"strings"
)

// Version values are set at build time using -ldflags.
var Version = "dev"
var Built = ""
var GitCommit = ""

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

type VersionInfo struct {
	Version   string `json:"version"`
	Built     string `json:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

// GetVersionInfo reports the linked-in version. Without ldflags the commit
// falls back to the VCS revision recorded by the go tool.
func GetVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:   strings.TrimSpace(Version),
		Built:     strings.TrimSpace(Built),
		GitCommit: strings.TrimSpace(GitCommit),
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	build, ok := readBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = build.GoVersion
	for _, setting := range build.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = setting.Value
			}
		case "vcs.time":
			if info.Built == "" {
				info.Built = setting.Value
			}
		}
	}
	return info
}

func (info VersionInfo) IsDev() bool {
	return info.Version == "" || info.Version == "dev"
}

// ShortCommit trims the commit hash to twelve characters.
func (info VersionInfo) ShortCommit() string {
	if len(info.GitCommit) > 12 {
		return info.GitCommit[:12]
	}
	return info.GitCommit
}

// Lines renders the info for a version command, one fact per line.
func (info VersionInfo) Lines(program string) []string {
	lines := []string{program + " " + info.Version}
	if !info.IsDev() {
		lines[0] = program + " version " + info.Version
	}
	if commit := info.ShortCommit(); commit != "" {
		lines = append(lines, "commit "+commit)
	}
	if info.Built != "" {
		lines = append(lines, "built "+info.Built)
	}
	if info.GoVersion != "" {
		lines = append(lines, "built with "+info.GoVersion)
	}
	return lines
}
