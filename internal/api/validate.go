package api

import (
	"fmt"
	"strings"

	"dbconnector/internal/connection"
	"dbconnector/internal/db"

	"github.com/xeipuuv/gojsonschema"
)

const networkSchema = `{
	"type": "object",
	"required": ["dialect", "host"],
	"properties": {
		"host": {"type": "string", "minLength": 1},
		"port": {"type": "integer", "minimum": 0, "maximum": 65535}
	}
}`

const credentialedSchema = `{
	"type": "object",
	"required": ["dialect", "username", "host"],
	"properties": {
		"username": {"type": "string", "minLength": 1},
		"host": {"type": "string", "minLength": 1},
		"port": {"type": "integer", "minimum": 0, "maximum": 65535}
	}
}`

const fileSchema = `{
	"type": "object",
	"required": ["dialect", "storage"],
	"properties": {
		"storage": {"type": "string", "minLength": 1}
	}
}`

const urlSchema = `{
	"type": "object",
	"required": ["dialect", "url"],
	"properties": {
		"url": {"type": "string", "pattern": "^(https?|s3|file)://"}
	}
}`

const s3Schema = `{
	"type": "object",
	"required": ["dialect", "bucket", "accessKeyId", "secretAccessKey"],
	"properties": {
		"bucket": {"type": "string", "minLength": 1},
		"accessKeyId": {"type": "string", "minLength": 1},
		"secretAccessKey": {"type": "string", "minLength": 1}
	}
}`

const mongoSchema = `{
	"type": "object",
	"required": ["dialect"],
	"anyOf": [
		{"required": ["uri"]},
		{"required": ["host"]}
	]
}`

const anySchema = `{"type": "object", "required": ["dialect"]}`

var connectionSchemas = map[string]*gojsonschema.Schema{}

func init() {
	byDialect := map[string]string{
		connection.DialectMySQL:         credentialedSchema,
		connection.DialectMariaDB:       credentialedSchema,
		connection.DialectPostgres:      credentialedSchema,
		connection.DialectRedshift:      credentialedSchema,
		connection.DialectMSSQL:         credentialedSchema,
		connection.DialectOracle:        credentialedSchema,
		connection.DialectSQLite:        fileSchema,
		connection.DialectDuckDB:        fileSchema,
		connection.DialectCSV:           urlSchema,
		connection.DialectElasticsearch: urlSchema,
		connection.DialectApacheDrill:   urlSchema,
		connection.DialectS3:            s3Schema,
		connection.DialectRedis:         networkSchema,
		connection.DialectMongoDB:       mongoSchema,
		connection.DialectMock:          anySchema,
	}
	for dialect, raw := range byDialect {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			panic(fmt.Sprintf("invalid schema for %s: %v", dialect, err))
		}
		connectionSchemas[dialect] = schema
	}
}

// validateSchema checks the fields cfg needs for its dialect.
func validateSchema(cfg connection.ConnectionConfig) error {
	dialect := db.NormalizeDialect(cfg.Dialect)
	schema, ok := connectionSchemas[dialect]
	if !ok {
		return fmt.Errorf("Unsupported dialect: %q", cfg.Dialect)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(cfg))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("Invalid connection: %s", strings.Join(problems, "; "))
}

// validateConnection checks the schema and then opens and closes a real
// connection.
func validateConnection(cfg connection.ConnectionConfig) error {
	if err := validateSchema(cfg); err != nil {
		return err
	}
	database, err := db.NewDatabase(cfg.Dialect)
	if err != nil {
		return err
	}
	defer database.Close()
	return database.Connect(cfg)
}
