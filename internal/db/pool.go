package db

import (
	"fmt"
	"sync"

	"dbconnector/internal/connection"

	"go.uber.org/zap"
)

type pooledDatabase struct {
	key string
	db  Database
}

// Pool caches one live connection per saved connection id.
type Pool struct {
	mu          sync.Mutex
	entries     map[string]pooledDatabase
	logger      *zap.Logger
	newDatabase func(dialect string) (Database, error)
}

func NewPool(logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		entries:     make(map[string]pooledDatabase),
		logger:      logger,
		newDatabase: NewDatabase,
	}
}

// Generate a unique key for the connection config
func getCacheKey(config connection.ConnectionConfig) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s|%v|%s",
		normalizeDatabaseType(config.Dialect), config.Username, config.Address(), config.Database,
		config.Storage, config.URL, config.Bucket, config.URI, config.UseSSH, config.SSH.Host)
}

func poolID(config connection.ConnectionConfig) string {
	if config.ID != "" {
		return config.ID
	}
	return getCacheKey(config)
}

// Get returns the cached connection for config when it still answers a
// ping, otherwise it opens a new one.
func (p *Pool) Get(config connection.ConnectionConfig) (Database, error) {
	id := poolID(config)
	key := getCacheKey(config)

	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.entries[id]; ok {
		if entry.key == key {
			if err := entry.db.Ping(); err == nil {
				return entry.db, nil
			}
			p.logger.Info("cached connection failed ping, reconnecting", zap.String("connectionId", id))
		}
		_ = entry.db.Close()
		delete(p.entries, id)
	}

	db, err := p.newDatabase(config.Dialect)
	if err != nil {
		return nil, err
	}
	if err := db.Connect(config); err != nil {
		_ = db.Close()
		return nil, err
	}
	p.entries[id] = pooledDatabase{key: key, db: db}
	return db, nil
}

// Close drops and closes the connection cached for id.
func (p *Pool) Close(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[id]; ok {
		_ = entry.db.Close()
		delete(p.entries, id)
	}
}

func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, entry := range p.entries {
		_ = entry.db.Close()
		delete(p.entries, id)
	}
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
