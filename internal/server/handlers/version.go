package handlers

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/crmpulse/crmpulse/internal/config"
)

// AppVersion is injected from main via SetVersionInfo
var (
	AppVersion   = "dev"
	AppCommit    = "unknown"
	AppBuildDate = "unknown"
)

// SetVersionInfo sets the version information for the handler
func SetVersionInfo(version, commit, buildDate string) {
	AppVersion = version
	AppCommit = commit
	AppBuildDate = buildDate
}

// VersionResponse represents the version information response
type VersionResponse struct {
	App          AppInfo     `json:"app"`
	Dependencies DepInfo     `json:"dependencies"`
	Runtime      RuntimeInfo `json:"runtime"`
}

// AppInfo contains application version details
type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// DepInfo contains versions of the modules the service is built on.
type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Libsql   string `json:"libsql"`
	Chi      string `json:"chi"`
}

// RuntimeInfo contains runtime environment information
type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

// VersionHandler handles version information requests
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	response := VersionResponse{
		App: AppInfo{
			Name:      config.AppName,
			Version:   AppVersion,
			Commit:    AppCommit,
			BuildDate: AppBuildDate,
			GoVersion: runtime.Version(),
		},
		Dependencies: dependencyVersions(),
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	}

	writeJSON(w, http.StatusOK, response)
}

// dependencyVersions reads module versions from the embedded build info.
// Test binaries and builds without module data report "unknown".
func dependencyVersions() DepInfo {
	deps := DepInfo{Gofulmen: "unknown", Libsql: "unknown", Chi: "unknown"}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return deps
	}
	for _, mod := range info.Deps {
		version := mod.Version
		if mod.Replace != nil {
			version = mod.Replace.Version
		}
		switch {
		case mod.Path == "github.com/fulmenhq/gofulmen":
			deps.Gofulmen = version
		case mod.Path == "github.com/tursodatabase/go-libsql":
			deps.Libsql = version
		case strings.HasPrefix(mod.Path, "github.com/go-chi/chi"):
			deps.Chi = version
		}
	}
	return deps
}
