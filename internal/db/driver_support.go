package db

import (
	"fmt"
	"sort"
	"strings"

	"dbconnector/internal/connection"
)

var coreBuiltinDrivers = map[string]struct{}{
	connection.DialectMySQL:         {},
	connection.DialectMariaDB:       {},
	connection.DialectPostgres:      {},
	connection.DialectRedshift:      {},
	connection.DialectMSSQL:         {},
	connection.DialectSQLite:        {},
	connection.DialectOracle:        {},
	connection.DialectCSV:           {},
	connection.DialectElasticsearch: {},
	connection.DialectS3:            {},
	connection.DialectApacheDrill:   {},
	connection.DialectRedis:         {},
	connection.DialectMongoDB:       {},
	connection.DialectMock:          {},
}

// optionalDrivers need a build tag (and cgo) to be linked in.
var optionalDrivers = map[string]func() (bool, string){
	connection.DialectDuckDB: duckDBBuildSupportStatus,
}

// DriverStatus is one row of the /drivers matrix.
type DriverStatus struct {
	Dialect     string `json:"dialect"`
	DisplayName string `json:"displayName"`
	Builtin     bool   `json:"builtin"`
	Supported   bool   `json:"supported"`
	Reason      string `json:"reason,omitempty"`
}

func DriverDisplayName(driverType string) string {
	switch normalizeDatabaseType(driverType) {
	case connection.DialectMySQL:
		return "MySQL"
	case connection.DialectMariaDB:
		return "MariaDB"
	case connection.DialectPostgres:
		return "PostgreSQL"
	case connection.DialectRedshift:
		return "Redshift"
	case connection.DialectMSSQL:
		return "SQL Server"
	case connection.DialectSQLite:
		return "SQLite"
	case connection.DialectOracle:
		return "Oracle"
	case connection.DialectDuckDB:
		return "DuckDB"
	case connection.DialectCSV:
		return "CSV"
	case connection.DialectElasticsearch:
		return "Elasticsearch"
	case connection.DialectS3:
		return "S3"
	case connection.DialectApacheDrill:
		return "Apache Drill"
	case connection.DialectRedis:
		return "Redis"
	case connection.DialectMongoDB:
		return "MongoDB"
	case connection.DialectMock:
		return "Mock"
	default:
		return strings.ToUpper(strings.TrimSpace(driverType))
	}
}

func IsBuiltinDriver(driverType string) bool {
	_, ok := coreBuiltinDrivers[normalizeDatabaseType(driverType)]
	return ok
}

func IsOptionalDriver(driverType string) bool {
	_, ok := optionalDrivers[normalizeDatabaseType(driverType)]
	return ok
}

// DriverRuntimeSupportStatus reports whether the current build can open a
// connection of the given dialect.
func DriverRuntimeSupportStatus(driverType string) (bool, string) {
	normalized := normalizeDatabaseType(driverType)
	if normalized == "" {
		return false, "unrecognized datastore type"
	}
	if IsBuiltinDriver(normalized) {
		return true, ""
	}
	if status, ok := optionalDrivers[normalized]; ok {
		if supported, reason := status(); !supported {
			return false, reason
		}
		if _, registered := databaseFactories[normalized]; !registered {
			return false, fmt.Sprintf("%s driver is not included in this build; rebuild with -tags connector_%s_driver", DriverDisplayName(normalized), normalized)
		}
		return true, ""
	}
	return true, ""
}

// SupportMatrix lists every known dialect with its availability.
func SupportMatrix() []DriverStatus {
	names := make([]string, 0, len(coreBuiltinDrivers)+len(optionalDrivers))
	for name := range coreBuiltinDrivers {
		names = append(names, name)
	}
	for name := range optionalDrivers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]DriverStatus, 0, len(names))
	for _, name := range names {
		supported, reason := DriverRuntimeSupportStatus(name)
		out = append(out, DriverStatus{
			Dialect:     name,
			DisplayName: DriverDisplayName(name),
			Builtin:     IsBuiltinDriver(name),
			Supported:   supported,
			Reason:      reason,
		})
	}
	return out
}
