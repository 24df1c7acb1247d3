//go:build !(connector_duckdb_driver && cgo && (duckdb_use_lib || duckdb_use_static_lib || (darwin && (amd64 || arm64)) || (linux && (amd64 || arm64)) || (windows && amd64)))

package db

import (
	"fmt"
	"runtime"
)

func duckDBBuildSupportStatus() (bool, string) {
	return false, fmt.Sprintf("this build does not include the DuckDB driver (platform=%s/%s). Build with CGO on darwin/linux amd64|arm64 or windows/amd64 and -tags connector_duckdb_driver, or provide a custom library with -tags duckdb_use_lib / duckdb_use_static_lib", runtime.GOOS, runtime.GOARCH)
}
