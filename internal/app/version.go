package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Set with -ldflags "-X dbconnector/internal/app.AppVersion=..."
var AppVersion = "0.0.0"
var AppBuildTime = ""

// Version is the connector version reported by /status and `version`.
func Version() string {
	version := strings.TrimSpace(AppVersion)
	if version == "" || version == "0.0.0" {
		if env := strings.TrimSpace(os.Getenv("PLOTLY_CONNECTOR_VERSION")); env != "" {
			version = env
		} else if pkgVersion, err := readPackageVersion(); err == nil && pkgVersion != "" {
			version = pkgVersion
		}
	}
	return normalizeVersion(version)
}

// readPackageVersion looks for the package.json the desktop bundle ships
// next to the binary.
func readPackageVersion() (string, error) {
	paths := []string{"package.json"}
	exe, err := os.Executable()
	if err == nil {
		base := filepath.Dir(exe)
		paths = append(paths, filepath.Join(base, "package.json"))
		paths = append(paths, filepath.Join(base, "..", "package.json"))
	}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var payload struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			continue
		}
		if strings.TrimSpace(payload.Version) != "" {
			return strings.TrimSpace(payload.Version), nil
		}
	}

	return "", os.ErrNotExist
}

func normalizeVersion(version string) string {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	if version == "" {
		return "0.0.0"
	}
	return version
}
