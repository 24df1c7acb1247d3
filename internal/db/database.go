package db

import (
	"dbconnector/internal/connection"
	"fmt"
	"strings"
)

type Database interface {
	Connect(config connection.ConnectionConfig) error
	Close() error
	Ping() error
	Query(query string) ([]map[string]interface{}, []string, error)
	Exec(query string) (int64, error)
	GetDatabases() ([]string, error)
	GetTables(dbName string) ([]string, error)
}

// Previewer is implemented by stores whose preview is not a SQL preset.
type Previewer interface {
	Preview(table string, limit int) ([]map[string]interface{}, []string, error)
}

type SchemaLister interface {
	GetSchemas() ([]connection.ColumnDefinitionWithTable, error)
}

type FileLister interface {
	ListFiles() ([]FileInfo, error)
}

type StorageLister interface {
	ListStorage() ([]map[string]interface{}, error)
}

type MappingsProvider interface {
	GetMappings() (map[string]interface{}, error)
}

// FileInfo describes an object in a bucket or a Drill workspace.
type FileInfo struct {
	Key          string `json:"Key"`
	Size         int64  `json:"Size"`
	LastModified string `json:"LastModified,omitempty"`
}

type databaseFactory func() Database

var databaseFactories = map[string]databaseFactory{
	connection.DialectMySQL: func() Database {
		return &MySQLDB{dialect: connection.DialectMySQL}
	},
	connection.DialectMariaDB: func() Database {
		return &MySQLDB{dialect: connection.DialectMariaDB}
	},
	connection.DialectPostgres: func() Database {
		return &PostgresDB{dialect: connection.DialectPostgres}
	},
	connection.DialectRedshift: func() Database {
		return &PostgresDB{dialect: connection.DialectRedshift}
	},
	connection.DialectMSSQL: func() Database {
		return &MSSQLDB{}
	},
	connection.DialectSQLite: func() Database {
		return &SQLiteDB{}
	},
	connection.DialectOracle: func() Database {
		return &OracleDB{}
	},
	connection.DialectCSV: func() Database {
		return &CSVDB{}
	},
	connection.DialectElasticsearch: func() Database {
		return &ElasticsearchDB{}
	},
	connection.DialectS3: func() Database {
		return &S3DB{}
	},
	connection.DialectApacheDrill: func() Database {
		return &DrillDB{}
	},
	connection.DialectRedis: func() Database {
		return &RedisDB{}
	},
	connection.DialectMongoDB: func() Database {
		return &MongoDB{}
	},
	connection.DialectMock: func() Database {
		return &MockDB{}
	},
}

func init() {
	registerOptionalDatabaseFactories()
}

func registerDatabaseFactory(factory databaseFactory, dbTypes ...string) {
	if factory == nil || len(dbTypes) == 0 {
		return
	}
	for _, dbType := range dbTypes {
		normalized := normalizeDatabaseType(dbType)
		if normalized == "" {
			continue
		}
		databaseFactories[normalized] = factory
	}
}

func normalizeDatabaseType(dbType string) string {
	normalized := strings.ToLower(strings.TrimSpace(dbType))
	switch normalized {
	case "postgresql":
		return connection.DialectPostgres
	case "sqlserver":
		return connection.DialectMSSQL
	case "drill", "apache-drill", "apachedrill":
		return connection.DialectApacheDrill
	case "es":
		return connection.DialectElasticsearch
	case "mongo":
		return connection.DialectMongoDB
	default:
		return normalized
	}
}

// NormalizeDialect maps aliases onto the canonical dialect names.
func NormalizeDialect(dialect string) string {
	return normalizeDatabaseType(dialect)
}

// Factory
func NewDatabase(dbType string) (Database, error) {
	normalized := normalizeDatabaseType(dbType)
	if normalized == "" {
		normalized = connection.DialectMySQL
	}
	if supported, reason := DriverRuntimeSupportStatus(normalized); !supported {
		return nil, fmt.Errorf("%s", reason)
	}
	factory, ok := databaseFactories[normalized]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
	return factory(), nil
}
