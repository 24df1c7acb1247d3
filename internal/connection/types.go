package connection

import (
	"fmt"
	"strings"
)

// Dialect names accepted in ConnectionConfig.Dialect
const (
	DialectMySQL         = "mysql"
	DialectMariaDB       = "mariadb"
	DialectPostgres      = "postgres"
	DialectRedshift      = "redshift"
	DialectMSSQL         = "mssql"
	DialectSQLite        = "sqlite"
	DialectOracle        = "oracle"
	DialectDuckDB        = "duckdb"
	DialectCSV           = "csv"
	DialectElasticsearch = "elasticsearch"
	DialectS3            = "s3"
	DialectApacheDrill   = "apache drill"
	DialectRedis         = "redis"
	DialectMongoDB       = "mongodb"
	DialectMock          = "mock"
)

// SSHConfig holds SSH connection details
type SSHConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	KeyPath  string `json:"keyPath,omitempty" yaml:"keyPath,omitempty"`
}

// ConnectionConfig holds datastore connection details including SSH
type ConnectionConfig struct {
	ID              string    `json:"id,omitempty" yaml:"id,omitempty"`
	Dialect         string    `json:"dialect" yaml:"dialect"`
	Username        string    `json:"username,omitempty" yaml:"username,omitempty"`
	Password        string    `json:"password,omitempty" yaml:"password,omitempty"`
	Host            string    `json:"host,omitempty" yaml:"host,omitempty"`
	Port            int       `json:"port,omitempty" yaml:"port,omitempty"`
	Database        string    `json:"database,omitempty" yaml:"database,omitempty"`
	Storage         string    `json:"storage,omitempty" yaml:"storage,omitempty"` // sqlite file
	SSL             bool      `json:"ssl,omitempty" yaml:"ssl,omitempty"`
	Encrypt         bool      `json:"encrypt,omitempty" yaml:"encrypt,omitempty"` // mssql
	InstanceName    string    `json:"instanceName,omitempty" yaml:"instanceName,omitempty"`
	ConnectTimeout  int       `json:"connectTimeout,omitempty" yaml:"connectTimeout,omitempty"` // seconds
	RequestTimeout  int       `json:"requestTimeout,omitempty" yaml:"requestTimeout,omitempty"` // seconds
	AccessKeyID     string    `json:"accessKeyId,omitempty" yaml:"accessKeyId,omitempty"`
	SecretAccessKey string    `json:"secretAccessKey,omitempty" yaml:"secretAccessKey,omitempty"`
	Bucket          string    `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Region          string    `json:"region,omitempty" yaml:"region,omitempty"`
	URL             string    `json:"url,omitempty" yaml:"url,omitempty"` // csv, elasticsearch, apache drill
	UseSSH          bool      `json:"useSSH,omitempty" yaml:"useSSH,omitempty"`
	SSH             SSHConfig `json:"ssh,omitempty" yaml:"ssh,omitempty"`
	RedisDB         int       `json:"redisDB,omitempty" yaml:"redisDB,omitempty"`
	URI             string    `json:"uri,omitempty" yaml:"uri,omitempty"` // mongodb
}

// QueryResult is the standard response format for single-shot calls
type QueryResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	Fields  []string    `json:"fields,omitempty"`
}

// Grid is the tabular shape every query result is sent to the UI in.
type Grid struct {
	ColumnNames []string        `json:"columnnames"`
	NCols       int             `json:"ncols"`
	NRows       int             `json:"nrows"`
	Rows        [][]interface{} `json:"rows"`
}

// ColumnDefinitionWithTable represents a column with its table name (sql-schemas)
type ColumnDefinitionWithTable struct {
	TableName string `json:"tableName"`
	Name      string `json:"name"`
	Type      string `json:"type"`
}

// Sanitize strips credentials before a config leaves the process.
func Sanitize(cfg ConnectionConfig) ConnectionConfig {
	out := cfg
	out.Password = ""
	out.SecretAccessKey = ""
	out.SSH.Password = ""
	return out
}

// Summary renders a session label such as "mysql:root@localhost".
func Summary(cfg ConnectionConfig) string {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%s@%s", cfg.Dialect, cfg.Username, host)
}

var defaultPorts = map[string]int{
	DialectMySQL:         3306,
	DialectMariaDB:       3306,
	DialectPostgres:      5432,
	DialectRedshift:      5439,
	DialectMSSQL:         1433,
	DialectOracle:        1521,
	DialectElasticsearch: 9200,
	DialectApacheDrill:   8047,
	DialectRedis:         6379,
	DialectMongoDB:       27017,
}

// EffectivePort returns the configured port or the dialect default.
func (c ConnectionConfig) EffectivePort() int {
	if c.Port > 0 {
		return c.Port
	}
	return defaultPorts[strings.ToLower(strings.TrimSpace(c.Dialect))]
}

// Address joins host and port; host defaults to localhost.
func (c ConnectionConfig) Address() string {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = "localhost"
	}
	port := c.EffectivePort()
	if port <= 0 {
		return host
	}
	return fmt.Sprintf("%s:%d", host, port)
}
