package db

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"dbconnector/internal/connection"
	"dbconnector/internal/ssh"

	"github.com/redis/go-redis/v9"
)

const (
	redisDatabaseCount = 16
	redisScanCount     = 500
	redisMaxKeys       = 10000
)

// RedisDB treats db0..db15 as databases and keys as tables. A query is a
// raw command line such as "HGETALL user:1".
type RedisDB struct {
	client *redis.Client
	config connection.ConnectionConfig
	tunnel *ssh.Tunnel
}

func (r *RedisDB) Connect(config connection.ConnectionConfig) error {
	_ = r.Close()
	r.config = config

	opts := &redis.Options{
		Addr:        config.Address(),
		Username:    config.Username,
		Password:    config.Password,
		DB:          config.RedisDB,
		DialTimeout: getConnectTimeout(config),
		ReadTimeout: requestTimeout(config),
	}
	if db, ok := parseRedisDatabase(config.Database); ok {
		opts.DB = db
	}
	if config.UseSSH {
		tunnel, err := ssh.Open(config.SSH, getConnectTimeout(config))
		if err != nil {
			return err
		}
		r.tunnel = tunnel
		opts.Dialer = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return tunnel.DialContext(ctx, network, addr)
		}
	}
	r.client = redis.NewClient(opts)
	if err := r.Ping(); err != nil {
		_ = r.Close()
		return fmt.Errorf("connection verification failed: %w", err)
	}
	return nil
}

// parseRedisDatabase accepts "3" or "db3".
func parseRedisDatabase(name string) (int, bool) {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "db")
	if name == "" {
		return 0, false
	}
	n, err := strconv.Atoi(name)
	if err != nil || n < 0 || n >= redisDatabaseCount {
		return 0, false
	}
	return n, true
}

func (r *RedisDB) Close() error {
	var err error
	if r.client != nil {
		err = r.client.Close()
		r.client = nil
	}
	if r.tunnel != nil {
		_ = r.tunnel.Close()
		r.tunnel = nil
	}
	return err
}

func (r *RedisDB) Ping() error {
	if r.client == nil {
		return fmt.Errorf("connection not open")
	}
	ctx, cancel := context.WithTimeout(context.Background(), getConnectTimeout(r.config))
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *RedisDB) GetDatabases() ([]string, error) {
	names := make([]string, redisDatabaseCount)
	for i := range names {
		names[i] = fmt.Sprintf("db%d", i)
	}
	return names, nil
}

// GetTables scans the keys of the connected database.
func (r *RedisDB) GetTables(string) ([]string, error) {
	if r.client == nil {
		return nil, fmt.Errorf("connection not open")
	}
	ctx := context.Background()
	keys := make([]string, 0)
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, "*", redisScanCount).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 || len(keys) >= redisMaxKeys {
			break
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *RedisDB) Query(query string) ([]map[string]interface{}, []string, error) {
	return r.QueryContext(context.Background(), query)
}

func (r *RedisDB) QueryContext(ctx context.Context, query string) ([]map[string]interface{}, []string, error) {
	if r.client == nil {
		return nil, nil, fmt.Errorf("connection not open")
	}
	args := splitRedisCommand(query)
	if len(args) == 0 {
		return nil, nil, fmt.Errorf("empty redis command")
	}
	result, err := r.client.Do(ctx, args...).Result()
	if err == redis.Nil {
		return []map[string]interface{}{}, []string{"value"}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	rows, fields := redisResultRows(result)
	return rows, fields, nil
}

func (r *RedisDB) Exec(query string) (int64, error) {
	rows, _, err := r.Query(query)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// Preview reads a key with the command that matches its type.
func (r *RedisDB) Preview(key string, limit int) ([]map[string]interface{}, []string, error) {
	if r.client == nil {
		return nil, nil, fmt.Errorf("connection not open")
	}
	ctx := context.Background()
	kind, err := r.client.Type(ctx, key).Result()
	if err != nil {
		return nil, nil, err
	}
	var result interface{}
	switch kind {
	case "string":
		result, err = r.client.Get(ctx, key).Result()
	case "hash":
		var m map[string]string
		m, err = r.client.HGetAll(ctx, key).Result()
		result = hashToInterface(m)
	case "list":
		result, err = r.client.LRange(ctx, key, 0, int64(limit-1)).Result()
	case "set":
		result, err = r.client.SRandMemberN(ctx, key, int64(limit)).Result()
	case "zset":
		result, err = r.client.ZRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	case "none":
		return []map[string]interface{}{}, []string{"value"}, nil
	default:
		return nil, nil, fmt.Errorf("preview is not supported for redis type %s", kind)
	}
	if err != nil {
		return nil, nil, err
	}
	rows, fields := redisResultRows(result)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, fields, nil
}

func hashToInterface(m map[string]string) map[interface{}]interface{} {
	out := make(map[interface{}]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func redisResultRows(result interface{}) ([]map[string]interface{}, []string) {
	switch v := result.(type) {
	case []interface{}:
		rows := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			rows = append(rows, map[string]interface{}{"value": redisScalar(item)})
		}
		return rows, []string{"value"}
	case []string:
		rows := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			rows = append(rows, map[string]interface{}{"value": item})
		}
		return rows, []string{"value"}
	case []redis.Z:
		rows := make([]map[string]interface{}, 0, len(v))
		for _, z := range v {
			rows = append(rows, map[string]interface{}{"member": redisScalar(z.Member), "score": z.Score})
		}
		return rows, []string{"member", "score"}
	case map[interface{}]interface{}:
		keys := make([]string, 0, len(v))
		byName := make(map[string]interface{}, len(v))
		for k, val := range v {
			name := stringify(k)
			keys = append(keys, name)
			byName[name] = val
		}
		sort.Strings(keys)
		rows := make([]map[string]interface{}, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, map[string]interface{}{"field": k, "value": redisScalar(byName[k])})
		}
		return rows, []string{"field", "value"}
	default:
		return []map[string]interface{}{{"value": redisScalar(v)}}, []string{"value"}
	}
}

func redisScalar(v interface{}) interface{} {
	switch val := v.(type) {
	case []interface{}, map[interface{}]interface{}:
		return fmt.Sprintf("%v", val)
	default:
		return val
	}
}

// splitRedisCommand splits on whitespace and honours double quotes.
func splitRedisCommand(line string) []interface{} {
	var args []interface{}
	var current strings.Builder
	inQuotes, started := false, false
	for _, r := range strings.TrimSpace(line) {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			started = true
		case (r == ' ' || r == '\t') && !inQuotes:
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}
	if started {
		args = append(args, current.String())
	}
	return args
}
