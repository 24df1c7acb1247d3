package store

import (
	"fmt"

	"dbconnector/internal/connection"
	"dbconnector/internal/db"

	"github.com/google/uuid"
)

// Connections persists datastore configurations, credentials included,
// in connections.yaml.
type Connections struct {
	file yamlFile[connection.ConnectionConfig]
}

func NewConnections(path string) *Connections {
	return &Connections{file: yamlFile[connection.ConnectionConfig]{path: path}}
}

func (c *Connections) List() ([]connection.ConnectionConfig, error) {
	return c.file.list()
}

func (c *Connections) Get(id string) (connection.ConnectionConfig, error) {
	items, err := c.file.list()
	if err != nil {
		return connection.ConnectionConfig{}, err
	}
	for _, item := range items {
		if item.ID == id {
			return item, nil
		}
	}
	return connection.ConnectionConfig{}, fmt.Errorf("connection %s: %w", id, ErrNotFound)
}

// Lookup finds a saved connection equal to cfg once both are sanitized and
// the id is ignored.
func (c *Connections) Lookup(cfg connection.ConnectionConfig) (connection.ConnectionConfig, bool, error) {
	items, err := c.file.list()
	if err != nil {
		return connection.ConnectionConfig{}, false, err
	}
	want := lookupKey(cfg)
	for _, item := range items {
		if lookupKey(item) == want {
			return item, true, nil
		}
	}
	return connection.ConnectionConfig{}, false, nil
}

func lookupKey(cfg connection.ConnectionConfig) connection.ConnectionConfig {
	out := connection.Sanitize(cfg)
	out.ID = ""
	out.Dialect = db.NormalizeDialect(out.Dialect)
	return out
}

// Save stores cfg under a new "<dialect>-<uuid>" id and returns it.
func (c *Connections) Save(cfg connection.ConnectionConfig) (string, error) {
	cfg.Dialect = db.NormalizeDialect(cfg.Dialect)
	cfg.ID = fmt.Sprintf("%s-%s", cfg.Dialect, uuid.NewString())
	err := c.file.update(func(items []connection.ConnectionConfig) ([]connection.ConnectionConfig, error) {
		return append(items, cfg), nil
	})
	if err != nil {
		return "", err
	}
	return cfg.ID, nil
}

// Update replaces the connection with cfg.ID.
func (c *Connections) Update(cfg connection.ConnectionConfig) error {
	return c.file.update(func(items []connection.ConnectionConfig) ([]connection.ConnectionConfig, error) {
		for i := range items {
			if items[i].ID == cfg.ID {
				items[i] = cfg
				return items, nil
			}
		}
		return nil, fmt.Errorf("connection %s: %w", cfg.ID, ErrNotFound)
	})
}

func (c *Connections) Delete(id string) error {
	return c.file.update(func(items []connection.ConnectionConfig) ([]connection.ConnectionConfig, error) {
		for i := range items {
			if items[i].ID == id {
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("connection %s: %w", id, ErrNotFound)
	})
}
