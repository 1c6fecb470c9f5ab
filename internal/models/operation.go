// Package models defines the transient and persisted data types shared by every
// layer of the indexer: operations and big-map diffs flowing through the pipeline,
// and the durable Contract/IndexState rows written to the relational store.
package models

import (
	"encoding/json"
	"time"
)

// OperationKind distinguishes the two on-chain action kinds the indexer understands.
type OperationKind string

const (
	OperationKindTransaction OperationKind = "transaction"
	OperationKindOrigination OperationKind = "origination"
)

// OperationStatus mirrors the chain-explorer's applied/failed/backtracked tri-state.
// Only applied operations ever satisfy a pattern item (see cache.Matcher).
type OperationStatus string

const (
	OperationStatusApplied     OperationStatus = "applied"
	OperationStatusFailed      OperationStatus = "failed"
	OperationStatusBacktracked OperationStatus = "backtracked"
)

// Parameter is the tagged-variant payload attached to a transaction operation:
// entrypoint name plus a structured value. UnknownParameter, the fall-through
// case carrying the raw JSON value, is the only implementation in this module;
// no per-contract/entrypoint types are registered, and the datasource decodes
// every parameter into UnknownParameter.
type Parameter interface {
	Entrypoint() string
}

// UnknownParameter carries the raw JSON value for entrypoints with no declared type.
type UnknownParameter struct {
	EntrypointName string
	Value          json.RawMessage
}

func (p UnknownParameter) Entrypoint() string { return p.EntrypointName }

// Operation is a single on-chain action as delivered by the Datasource Client.
type Operation struct {
	Hash        string
	Counter     int64
	Level       int64
	Index       int // position within the enclosing block, used for ordering
	Timestamp   time.Time
	Kind        OperationKind
	Status      OperationStatus
	Sender      string
	Target      string // destination/originated-contract address, kind-dependent
	Amount      int64
	Parameter   Parameter // nil for originations
	Storage     json.RawMessage
	TargetType  string // declared typename of Target, if known (for origination matching)
}

// GroupKey identifies an Operation Group: all operations sharing a transaction hash
// and counter. Invariant: every operation in a group shares the same block Level.
type GroupKey struct {
	Hash    string
	Counter int64
}

// BigMapAction enumerates the storage-diff mutation kinds.
type BigMapAction string

const (
	BigMapActionAllocate  BigMapAction = "allocate"
	BigMapActionAddKey    BigMapAction = "add_key"
	BigMapActionUpdateKey BigMapAction = "update_key"
	BigMapActionRemoveKey BigMapAction = "remove_key"
	BigMapActionRemove    BigMapAction = "remove"
)

// BigMapDiff is a single storage key-value mutation identified by
// (big_map_id, level, index-within-block).
type BigMapDiff struct {
	BigMapID int64
	Level    int64
	Index    int
	Path     string // dotted path of the big-map field within the contract storage
	Contract string
	Action   BigMapAction
	Key      json.RawMessage
	Value    json.RawMessage
}
