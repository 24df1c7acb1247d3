package store

import (
	"fmt"
	"time"
)

// Execution statuses.
const (
	StatusOK      = "ok"
	StatusRunning = "running"
	StatusFailed  = "failed"
)

// Execution describes the latest run of a scheduled query.
type Execution struct {
	Status       string     `json:"status" yaml:"status"`
	StartedAt    time.Time  `json:"startedAt" yaml:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
	Duration     float64    `json:"duration,omitempty" yaml:"duration,omitempty"` // seconds
	RowCount     int        `json:"rowCount,omitempty" yaml:"rowCount,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
}

// Query is a statement that refreshes a Plotly grid on a schedule.
type Query struct {
	Fid             string     `json:"fid" yaml:"fid"`
	Uids            []string   `json:"uids" yaml:"uids"`
	ConnectionID    string     `json:"connectionId" yaml:"connectionId"`
	Query           string     `json:"query" yaml:"query"`
	RefreshInterval int        `json:"refreshInterval,omitempty" yaml:"refreshInterval,omitempty"` // seconds
	CronInterval    string     `json:"cronInterval,omitempty" yaml:"cronInterval,omitempty"`
	Requestor       string     `json:"requestor,omitempty" yaml:"requestor,omitempty"`
	Name            string     `json:"name,omitempty" yaml:"name,omitempty"`
	Tags            []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	LastExecution   *Execution `json:"lastExecution,omitempty" yaml:"lastExecution,omitempty"`
}

// Queries persists scheduled queries in queries.yaml.
type Queries struct {
	file yamlFile[Query]
}

func NewQueries(path string) *Queries {
	return &Queries{file: yamlFile[Query]{path: path}}
}

func (q *Queries) List() ([]Query, error) {
	return q.file.list()
}

func (q *Queries) Get(fid string) (Query, error) {
	items, err := q.file.list()
	if err != nil {
		return Query{}, err
	}
	for _, item := range items {
		if item.Fid == fid {
			return item, nil
		}
	}
	return Query{}, fmt.Errorf("query %s: %w", fid, ErrNotFound)
}

// Save inserts query or replaces the one with the same fid.
func (q *Queries) Save(query Query) error {
	return q.file.update(func(items []Query) ([]Query, error) {
		for i := range items {
			if items[i].Fid == query.Fid {
				items[i] = query
				return items, nil
			}
		}
		return append(items, query), nil
	})
}

func (q *Queries) Delete(fid string) error {
	return q.file.update(func(items []Query) ([]Query, error) {
		for i := range items {
			if items[i].Fid == fid {
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("query %s: %w", fid, ErrNotFound)
	})
}

// RemoveTag strips tagID from every query.
func (q *Queries) RemoveTag(tagID string) error {
	return q.file.update(func(items []Query) ([]Query, error) {
		for i := range items {
			tags := items[i].Tags[:0:0]
			for _, tag := range items[i].Tags {
				if tag != tagID {
					tags = append(tags, tag)
				}
			}
			items[i].Tags = tags
		}
		return items, nil
	})
}

// UpdateExecution records the latest run of fid.
func (q *Queries) UpdateExecution(fid string, exec Execution) error {
	return q.file.update(func(items []Query) ([]Query, error) {
		for i := range items {
			if items[i].Fid == fid {
				items[i].LastExecution = &exec
				return items, nil
			}
		}
		return nil, fmt.Errorf("query %s: %w", fid, ErrNotFound)
	})
}
