package main

import (
	"runtime/debug"
	"strings"
)

// Set with -ldflags "-X main.buildVersion=... -X main.buildCommit=...".
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

func versionString() string {
	commit := buildCommit
	if shortCommit(commit) == "" {
		commit = vcsRevision()
	}
	return formatVersion(buildVersion, commit)
}

// vcsRevision reads the commit the Go toolchain stamped into the binary.
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

func formatVersion(version, commit string) string {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "dev"
	}
	if v != "dev" {
		return v
	}
	if c := shortCommit(commit); c != "" {
		return "dev-" + c
	}
	return "dev"
}

func shortCommit(commit string) string {
	c := strings.TrimSpace(commit)
	if c == "" || c == "unknown" {
		return ""
	}
	return c[:min(len(c), 7)]
}
