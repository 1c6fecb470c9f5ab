package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/dipdup-net/indexer/internal/models"
)

// IndexEntry is a declarative index spec. Kind distinguishes OperationIndex from
// BigMapIndex once a TemplateReference has been resolved; Template/Values are only
// populated on the unresolved, as-declared form.
type IndexEntry struct {
	Name       string              `yaml:"-"`
	Kind       models.IndexKind    `yaml:"kind"`
	Datasource string              `yaml:"datasource"`
	Contracts  []string            `yaml:"contracts,omitempty"`
	Handlers   []*OperationHandler `yaml:"handlers,omitempty"`
	BigMaps    []*BigMapBinding    `yaml:"big_maps,omitempty"`

	// TemplateReference fields: present only before Initialize() resolves them.
	Template string                 `yaml:"template,omitempty"`
	Values   *TemplateValues        `yaml:"values,omitempty"`
}

func (e *IndexEntry) clone() *IndexEntry {
	c := *e
	c.Contracts = append([]string(nil), e.Contracts...)
	c.Handlers = make([]*OperationHandler, len(e.Handlers))
	for i, h := range e.Handlers {
		hc := *h
		hc.Pattern = append([]PatternItem(nil), h.Pattern...)
		c.Handlers[i] = &hc
	}
	c.BigMaps = make([]*BigMapBinding, len(e.BigMaps))
	for i, b := range e.BigMaps {
		bc := *b
		c.BigMaps[i] = &bc
	}
	return &c
}

// substitute replaces <placeholder> tokens in every templated string field.
func (e *IndexEntry) substitute(values *TemplateValues) {
	for i, contract := range e.Contracts {
		e.Contracts[i] = substituteString(contract, values)
	}
	for _, b := range e.BigMaps {
		b.Contract = substituteString(b.Contract, values)
		b.Path = substituteString(b.Path, values)
	}
	for _, h := range e.Handlers {
		for i := range h.Pattern {
			p := &h.Pattern[i]
			p.Source = substituteString(p.Source, values)
			p.Destination = substituteString(p.Destination, values)
			p.Entrypoint = substituteString(p.Entrypoint, values)
		}
	}
}

// OperationHandler is one handler declaration: a callback name plus an ordered
// pattern matched greedily left-to-right against an operation group (spec.md §3).
type OperationHandler struct {
	Callback string        `yaml:"callback"`
	Pattern  []PatternItem `yaml:"pattern"`
}

// PatternItem is one constraint set in a handler's pattern.
type PatternItem struct {
	Kind              models.OperationKind `yaml:"type"`
	Source            string               `yaml:"source,omitempty"`
	Destination       string               `yaml:"destination,omitempty"`
	Entrypoint        string               `yaml:"entrypoint,omitempty"`
	OriginatedType    string               `yaml:"originated_contract,omitempty"`
}

// BigMapBinding binds one (contract, path) pair to a handler.
type BigMapBinding struct {
	Contract string `yaml:"contract"`
	Path     string `yaml:"path"`
	Callback string `yaml:"callback"`
}

// ConfigHash fingerprints this index's own declared shape — kind, datasource,
// contracts, handler patterns, big-map bindings — independent of every other
// index's. Order-insensitive (handler/big-map lines and the contract set are
// each sorted before hashing) so reordering declarations in YAML doesn't read
// as a change. Used to tell a pattern-only edit apart from a DDL-wide schema
// change (SPEC_FULL.md §3.1): this hash drifting alone triggers a single-index
// resync, while database.SchemaHash drifting triggers a full reindex.
func (e *IndexEntry) ConfigHash() string {
	contracts := append([]string(nil), e.Contracts...)
	sort.Strings(contracts)

	handlerLines := make([]string, 0, len(e.Handlers))
	for _, h := range e.Handlers {
		patternParts := make([]string, 0, len(h.Pattern))
		for _, p := range h.Pattern {
			patternParts = append(patternParts, fmt.Sprintf("%s|%s|%s|%s|%s",
				p.Kind, p.Source, p.Destination, p.Entrypoint, p.OriginatedType))
		}
		handlerLines = append(handlerLines, fmt.Sprintf("%s:%s", h.Callback, strings.Join(patternParts, ";")))
	}
	sort.Strings(handlerLines)

	bigMapLines := make([]string, 0, len(e.BigMaps))
	for _, b := range e.BigMaps {
		bigMapLines = append(bigMapLines, fmt.Sprintf("%s:%s:%s", b.Contract, b.Path, b.Callback))
	}
	sort.Strings(bigMapLines)

	lines := append([]string{
		"kind=" + string(e.Kind),
		"datasource=" + e.Datasource,
		"contracts=" + strings.Join(contracts, ","),
	}, handlerLines...)
	lines = append(lines, bigMapLines...)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
