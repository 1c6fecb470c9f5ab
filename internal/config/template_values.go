package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// TemplateValues is the values mapping an index-template instantiation carries.
// Accessing a key that was never set is a configuration error naming both the
// index and the missing key (spec.md §3, §4.5): Get records the first failed
// lookup and MissingKeyError reports it once substitution has finished.
type TemplateValues struct {
	indexName string
	values    map[string]string
	missing   *string // set by Get when a lookup fails, surfaced by MissingKeyError
}

// NewTemplateValues wraps a plain values map with the owning index's name for
// diagnostics.
func NewTemplateValues(indexName string, values map[string]string) *TemplateValues {
	if values == nil {
		values = map[string]string{}
	}
	return &TemplateValues{indexName: indexName, values: values}
}

// Get returns the value for key, or the empty string while recording the miss so
// MissingKeyError can report it after substitution finishes. Substitution happens
// eagerly over template strings (config.go), so a truly missing key always
// surfaces as a ConfigurationError before the index is ever spawned.
func (t *TemplateValues) Get(key string) string {
	if v, ok := t.values[key]; ok {
		return v
	}
	if t.missing == nil {
		t.missing = &key
	}
	return ""
}

// MissingKeyError returns the configuration error for the first key access that
// failed, or nil if every accessed key was present.
func (t *TemplateValues) MissingKeyError() error {
	if t.missing == nil {
		return nil
	}
	return fmt.Errorf("index `%s` requires `%s` template value to be set", t.indexName, *t.missing)
}

func (t *TemplateValues) UnmarshalYAML(value *yaml.Node) error {
	m := map[string]string{}
	if err := value.Decode(&m); err != nil {
		return err
	}
	t.values = m
	return nil
}

func (t *TemplateValues) MarshalYAML() (interface{}, error) {
	return t.values, nil
}
