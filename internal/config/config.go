// Package config parses and validates the declarative YAML document described in
// spec.md §6: spec_version, package, database, contracts, datasources, templates,
// indexes, hooks. It does not generate Go types from declared schemas (out of
// scope, spec.md §1) — only the index/handler/hook declarations themselves.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	dipdup_errors "github.com/dipdup-net/indexer/internal/errors"
)

// SpecVersion is the spec version this build of the framework implements.
// A mismatch between a project's declared spec_version and this value routes to
// the migration error path (spec.md §6, §7).
const SpecVersion = "2.0"

var specVersionMapping = map[string]string{
	"0.1": "1.0.0",
	"1.0": "2.0.0",
	"2.0": "3.0.0",
}

var snakeCaseRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Config is the root of a parsed dipdup.yml document.
type Config struct {
	SpecVersion string                     `yaml:"spec_version"`
	Package     string                     `yaml:"package"`
	Database    DatabaseConfig             `yaml:"database"`
	Contracts   map[string]*ContractConfig `yaml:"contracts"`
	Datasources map[string]*DatasourceConfig `yaml:"datasources"`
	Templates   map[string]*IndexTemplate  `yaml:"templates"`
	Indexes     map[string]*IndexEntry     `yaml:"indexes"`
	Hooks       map[string]*HookConfig     `yaml:"hooks"`

	initialized bool
}

// ContractConfig names an on-chain contract by address with an optional typename.
type ContractConfig struct {
	Address  string `yaml:"address"`
	Typename string `yaml:"typename,omitempty"`
}

// DatabaseKind selects one of the two supported backends.
type DatabaseKind string

const (
	DatabaseSQLite   DatabaseKind = "sqlite"
	DatabasePostgres DatabaseKind = "postgres"
)

// DatabaseConfig describes the relational store the core writes to.
type DatabaseConfig struct {
	Kind          DatabaseKind `yaml:"kind"`
	Path          string       `yaml:"path,omitempty"` // sqlite
	ConnString    string       `yaml:"connection_string,omitempty"` // postgres
	SchemaName    string       `yaml:"schema_name,omitempty"`       // postgres only
	ImmuneTables  []string     `yaml:"immune_tables,omitempty"`     // postgres only
}

// DatasourceConfig describes a datasource, always "tzkt"-shaped in this core (a
// TzKT-style chain-explorer); the kind field is kept for forward compatibility
// with alternative explorers.
type DatasourceConfig struct {
	Kind string `yaml:"kind"`
	URL  string `yaml:"url"`
}

// HookConfig declares a lifecycle callback.
type HookConfig struct {
	Callback string       `yaml:"callback"`
	Args     []HookArgSpec `yaml:"args,omitempty"`
}

// HookArgSpec declares one positional argument's expected Go type name, used by the
// Callback Manager to validate `fire_hook` calls (spec.md §4.4).
type HookArgSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// defaultHooks are registered automatically even when the project never declares
// them; an unimplemented default hook logs once rather than raising
// HandlerImportError (SPEC_FULL.md §4.8), except on_rollback which escalates to
// reindex per spec.md §4.6/§7.
var defaultHooks = map[string]bool{
	"on_restart":  true,
	"on_rollback": true,
}

func IsDefaultHook(name string) bool { return defaultHooks[name] }

// Load reads and merges one or more YAML config files (later files override
// earlier ones for any key present in both, matching the multi -c flag behaviour
// of SPEC_FULL.md §6.1) and validates the result.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		return nil, dipdup_errors.NewConfigurationError("no configuration file provided")
	}

	merged := &Config{
		Contracts:   map[string]*ContractConfig{},
		Datasources: map[string]*DatasourceConfig{},
		Templates:   map[string]*IndexTemplate{},
		Indexes:     map[string]*IndexEntry{},
		Hooks:       map[string]*HookConfig{},
	}

	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, dipdup_errors.NewConfigurationError(fmt.Sprintf("cannot read config %q: %v", path, err))
		}

		var node yaml.Node
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return nil, dipdup_errors.NewConfigurationError(fmt.Sprintf("invalid YAML in %q: %v", path, err))
		}
		if err := rejectUnknownKeys(&node, path); err != nil {
			return nil, err
		}

		var partial Config
		if err := yaml.Unmarshal(raw, &partial); err != nil {
			return nil, dipdup_errors.NewConfigurationError(fmt.Sprintf("invalid config %q: %v", path, err))
		}
		merged.merge(&partial)
	}

	if merged.SpecVersion != SpecVersion {
		required, ok := specVersionMapping[SpecVersion]
		current := specVersionMapping[merged.SpecVersion]
		if !ok {
			required = SpecVersion
		}
		return nil, dipdup_errors.NewMigrationRequiredError(current, required)
	}

	if err := merged.validateNaming(); err != nil {
		return nil, err
	}

	return merged, nil
}

func (c *Config) merge(other *Config) {
	if other.SpecVersion != "" {
		c.SpecVersion = other.SpecVersion
	}
	if other.Package != "" {
		c.Package = other.Package
	}
	if other.Database.Kind != "" {
		c.Database = other.Database
	}
	for k, v := range other.Contracts {
		c.Contracts[k] = v
	}
	for k, v := range other.Datasources {
		c.Datasources[k] = v
	}
	for k, v := range other.Templates {
		c.Templates[k] = v
	}
	for k, v := range other.Indexes {
		c.Indexes[k] = v
	}
	for k, v := range other.Hooks {
		c.Hooks[k] = v
	}
}

// known top-level keys; anything else is rejected at load time (spec.md §6:
// "Unknown keys are rejected").
var knownTopLevelKeys = map[string]bool{
	"spec_version": true,
	"package":      true,
	"database":     true,
	"contracts":    true,
	"datasources":  true,
	"templates":    true,
	"indexes":      true,
	"hooks":        true,
}

func rejectUnknownKeys(node *yaml.Node, path string) error {
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return nil
	}
	mapping := node.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		if !knownTopLevelKeys[key] {
			return dipdup_errors.NewConfigurationError(fmt.Sprintf("unknown top-level key %q in %s", key, path))
		}
	}
	return nil
}

// validateNaming enforces snake_case table/column names for anything the core
// derives a table name from directly (contract and index names double as
// dipdup_contract.name / dipdup_state.dapp values).
func (c *Config) validateNaming() error {
	for name := range c.Contracts {
		if !snakeCaseRe.MatchString(name) {
			return dipdup_errors.NewConfigurationError(fmt.Sprintf("contract name %q must be snake_case", name))
		}
	}
	for name := range c.Indexes {
		if !snakeCaseRe.MatchString(name) {
			return dipdup_errors.NewConfigurationError(fmt.Sprintf("index name %q must be snake_case", name))
		}
	}
	return nil
}

// Initialize resolves TemplateReference entries into concrete index configs,
// fills defaults, and must be re-run after any runtime mutation (add_contract,
// add_index) before those mutations are visible to later callbacks (spec.md §4.5).
func (c *Config) Initialize() error {
	for name, entry := range c.Indexes {
		if entry.Template != "" {
			resolved, err := c.resolveTemplate(name, entry)
			if err != nil {
				return err
			}
			c.Indexes[name] = resolved
		}
	}
	for name, hook := range c.Hooks {
		if hook.Callback == "" {
			hook.Callback = name
		}
	}
	c.initialized = true
	return nil
}

func (c *Config) Initialized() bool { return c.initialized }

func (c *Config) resolveTemplate(indexName string, entry *IndexEntry) (*IndexEntry, error) {
	tmpl, ok := c.Templates[entry.Template]
	if !ok {
		return nil, dipdup_errors.NewConfigurationError(fmt.Sprintf("index %q references unknown template %q", indexName, entry.Template))
	}
	var raw map[string]string
	if entry.Values != nil {
		raw = entry.Values.values
	}
	values := NewTemplateValues(indexName, raw)
	resolved := tmpl.Base.clone()
	resolved.Name = indexName
	resolved.Values = values
	resolved.substitute(values)
	if err := values.MissingKeyError(); err != nil {
		return nil, dipdup_errors.NewConfigurationError(err.Error())
	}
	return resolved, nil
}

// IndexTemplate is a parameterised index definition instantiated with a values map.
type IndexTemplate struct {
	Base *IndexEntry `yaml:",inline"`
}

func (t *IndexTemplate) UnmarshalYAML(value *yaml.Node) error {
	var base IndexEntry
	if err := value.Decode(&base); err != nil {
		return err
	}
	t.Base = &base
	return nil
}

// substitutionPattern matches <placeholder> tokens inside string fields of a
// template so they can be replaced by TemplateValues at resolution time.
var substitutionPattern = regexp.MustCompile(`<([a-zA-Z0-9_]+)>`)

func substituteString(s string, values *TemplateValues) string {
	return substitutionPattern.ReplaceAllStringFunc(s, func(tok string) string {
		key := strings.Trim(tok, "<>")
		return values.Get(key)
	})
}
