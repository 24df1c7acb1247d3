package store

import (
	"fmt"

	"github.com/google/uuid"
)

type Tag struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Color string `json:"color" yaml:"color"`
}

// Tags persists query tags in tags.yaml.
type Tags struct {
	file yamlFile[Tag]
}

func NewTags(path string) *Tags {
	return &Tags{file: yamlFile[Tag]{path: path}}
}

func (t *Tags) List() ([]Tag, error) {
	return t.file.list()
}

func (t *Tags) Get(id string) (Tag, error) {
	items, err := t.file.list()
	if err != nil {
		return Tag{}, err
	}
	for _, item := range items {
		if item.ID == id {
			return item, nil
		}
	}
	return Tag{}, fmt.Errorf("tag %s: %w", id, ErrNotFound)
}

// Create assigns tag a new id and stores it.
func (t *Tags) Create(tag Tag) (Tag, error) {
	tag.ID = uuid.NewString()
	err := t.file.update(func(items []Tag) ([]Tag, error) {
		return append(items, tag), nil
	})
	return tag, err
}

// Update overwrites the name and color of tag.ID.
func (t *Tags) Update(tag Tag) (Tag, error) {
	err := t.file.update(func(items []Tag) ([]Tag, error) {
		for i := range items {
			if items[i].ID == tag.ID {
				items[i] = tag
				return items, nil
			}
		}
		return nil, fmt.Errorf("tag %s: %w", tag.ID, ErrNotFound)
	})
	return tag, err
}

func (t *Tags) Delete(id string) error {
	return t.file.update(func(items []Tag) ([]Tag, error) {
		for i := range items {
			if items[i].ID == id {
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("tag %s: %w", id, ErrNotFound)
	})
}
