package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"dbconnector/internal/connection"
	"dbconnector/internal/ssh"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const defaultMongoLimit = 1000

// MongoDB maps databases onto databases and collections onto tables.
type MongoDB struct {
	client *mongo.Client
	config connection.ConnectionConfig
	dbName string
	tunnel *ssh.Tunnel
}

// mongoQuery is the JSON document accepted by Query.
type mongoQuery struct {
	Collection string                 `json:"collection"`
	Filter     map[string]interface{} `json:"filter,omitempty"`
	Projection map[string]interface{} `json:"projection,omitempty"`
	Sort       map[string]interface{} `json:"sort,omitempty"`
	Pipeline   []interface{}          `json:"pipeline,omitempty"`
	Limit      int64                  `json:"limit,omitempty"`
}

func buildMongoURI(config connection.ConnectionConfig, address string) string {
	if uri := strings.TrimSpace(config.URI); uri != "" {
		if config.Password != "" {
			uri = strings.ReplaceAll(uri, "<password>", config.Password)
		}
		return uri
	}
	if config.Username != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s", config.Username, config.Password, address)
	}
	return fmt.Sprintf("mongodb://%s", address)
}

func (m *MongoDB) Connect(config connection.ConnectionConfig) error {
	_ = m.Close()
	m.config = config
	m.dbName = strings.TrimSpace(config.Database)
	if m.dbName == "" {
		m.dbName = "test"
	}

	address := config.Address()
	if config.UseSSH && strings.TrimSpace(config.URI) == "" {
		tunnel, err := ssh.Open(config.SSH, getConnectTimeout(config))
		if err != nil {
			return err
		}
		local, err := tunnel.Forward(address)
		if err != nil {
			_ = tunnel.Close()
			return err
		}
		m.tunnel = tunnel
		address = local
	}

	opts := options.Client().
		ApplyURI(buildMongoURI(config, address)).
		SetConnectTimeout(getConnectTimeout(config)).
		SetServerSelectionTimeout(getConnectTimeout(config))
	client, err := mongo.Connect(opts)
	if err != nil {
		_ = m.Close()
		return fmt.Errorf("connect mongo: %w", err)
	}
	m.client = client
	if err := m.Ping(); err != nil {
		_ = m.Close()
		return fmt.Errorf("connection verification failed: %w", err)
	}
	return nil
}

func (m *MongoDB) Close() error {
	var err error
	if m.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
		err = m.client.Disconnect(ctx)
		cancel()
		m.client = nil
	}
	if m.tunnel != nil {
		_ = m.tunnel.Close()
		m.tunnel = nil
	}
	return err
}

func (m *MongoDB) Ping() error {
	if m.client == nil {
		return fmt.Errorf("connection not open")
	}
	ctx, cancel := context.WithTimeout(context.Background(), getConnectTimeout(m.config))
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *MongoDB) GetDatabases() ([]string, error) {
	if m.client == nil {
		return nil, fmt.Errorf("connection not open")
	}
	names, err := m.client.ListDatabaseNames(context.Background(), bson.D{})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (m *MongoDB) GetTables(dbName string) ([]string, error) {
	if m.client == nil {
		return nil, fmt.Errorf("connection not open")
	}
	if strings.TrimSpace(dbName) == "" {
		dbName = m.dbName
	}
	names, err := m.client.Database(dbName).ListCollectionNames(context.Background(), bson.D{})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (m *MongoDB) Query(query string) ([]map[string]interface{}, []string, error) {
	return m.QueryContext(context.Background(), query)
}

func (m *MongoDB) QueryContext(ctx context.Context, query string) ([]map[string]interface{}, []string, error) {
	if m.client == nil {
		return nil, nil, fmt.Errorf("connection not open")
	}
	var mq mongoQuery
	if err := json.Unmarshal([]byte(query), &mq); err != nil {
		return nil, nil, fmt.Errorf("invalid query JSON: %w", err)
	}
	if mq.Collection == "" {
		return nil, nil, fmt.Errorf("query must specify 'collection'")
	}
	coll := m.client.Database(m.dbName).Collection(mq.Collection)

	var cursor *mongo.Cursor
	var err error
	if mq.Pipeline != nil {
		cursor, err = coll.Aggregate(ctx, mq.Pipeline)
	} else {
		limit := mq.Limit
		if limit <= 0 {
			limit = defaultMongoLimit
		}
		opts := options.Find().SetLimit(limit)
		if mq.Projection != nil {
			opts.SetProjection(unmarshalEJSON(mq.Projection))
		}
		if mq.Sort != nil {
			opts.SetSort(unmarshalEJSON(mq.Sort))
		}
		filter := unmarshalEJSON(mq.Filter)
		if filter == nil {
			filter = map[string]interface{}{}
		}
		cursor, err = coll.Find(ctx, filter, opts)
	}
	if err != nil {
		return nil, nil, err
	}
	defer cursor.Close(ctx)
	return decodeMongoCursor(ctx, cursor)
}

func (m *MongoDB) Preview(collection string, limit int) ([]map[string]interface{}, []string, error) {
	q, _ := json.Marshal(mongoQuery{Collection: collection, Limit: int64(limit)})
	return m.Query(string(q))
}

func (m *MongoDB) Exec(string) (int64, error) {
	return 0, fmt.Errorf("exec is not supported for %s", DriverDisplayName(connection.DialectMongoDB))
}

// unmarshalEJSON lets filters carry extended JSON such as {"$oid": ...}.
func unmarshalEJSON(field map[string]interface{}) map[string]interface{} {
	if field == nil {
		return nil
	}
	raw, err := json.Marshal(field)
	if err != nil {
		return field
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return field
	}
	out := make(map[string]interface{}, len(doc))
	for _, elem := range doc {
		out[elem.Key] = elem.Value
	}
	return out
}

func decodeMongoCursor(ctx context.Context, cursor *mongo.Cursor) ([]map[string]interface{}, []string, error) {
	seen := map[string]bool{}
	columns := []string{}
	rows := make([]map[string]interface{}, 0)
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return nil, nil, fmt.Errorf("decode: %w", err)
		}
		row := make(map[string]interface{}, len(doc))
		for _, elem := range doc {
			if !seen[elem.Key] {
				seen[elem.Key] = true
				columns = append(columns, elem.Key)
			}
			row[elem.Key] = mongoValue(elem.Value)
		}
		rows = append(rows, row)
	}
	if err := cursor.Err(); err != nil {
		return nil, nil, err
	}
	sort.SliceStable(columns, func(i, j int) bool {
		if columns[i] == "_id" {
			return true
		}
		if columns[j] == "_id" {
			return false
		}
		return columns[i] < columns[j]
	})
	return rows, columns, nil
}

func mongoValue(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC().Format("2006-01-02T15:04:05.000Z")
	case bson.D, bson.A:
		raw, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: val}}, false, false)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		var wrapped map[string]json.RawMessage
		if json.Unmarshal(raw, &wrapped) != nil {
			return string(raw)
		}
		return string(wrapped["v"])
	default:
		return val
	}
}
