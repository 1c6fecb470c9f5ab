// Package errors implements the error taxonomy of spec.md §7, translated from
// dipdup-py's exceptions.py ABC + format_help() hierarchy into Go error types.
// Each type carries a distinct exit code (see ExitCode) and a Help() string the
// CLI renders, using tablewriter for the three tabular cases exactly as
// dipdup-py used `tabulate`.
package errors

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// ExitCoder lets the CLI map any framework error to a process exit code without
// a type switch at every call site.
type ExitCoder interface {
	error
	ExitCode() int
}

// HelpfulError additionally renders a user-facing help message.
type HelpfulError interface {
	error
	Help() string
}

// ConfigurationError is raised for invalid YAML or a semantic config violation.
// Fatal at startup; recoverable at runtime only when raised by a dynamic context
// mutation, in which case the offending call is rejected and the indexer keeps
// running (spec.md §7).
type ConfigurationError struct{ Msg string }

func NewConfigurationError(msg string) *ConfigurationError { return &ConfigurationError{Msg: msg} }
func (e *ConfigurationError) Error() string                { return e.Msg }
func (e *ConfigurationError) ExitCode() int                { return 1 }
func (e *ConfigurationError) Help() string {
	return e.Msg + "\n\nDipDup config reference: see project documentation.\n"
}

// MigrationRequiredError is raised when the project's declared spec_version
// doesn't match the framework's. Fatal; prints a two-row current-vs-required table.
type MigrationRequiredError struct {
	From, To string
}

func NewMigrationRequiredError(from, to string) *MigrationRequiredError {
	return &MigrationRequiredError{From: from, To: to}
}
func (e *MigrationRequiredError) Error() string { return "project migration required" }
func (e *MigrationRequiredError) ExitCode() int { return 2 }
func (e *MigrationRequiredError) Help() string {
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"", "spec_version", "DipDup version"})
	table.Append([]string{"current", e.From, e.From})
	table.Append([]string{"required", e.To, e.To})
	table.Render()
	return "Project migration required!\n\n" + sb.String() + "\n  1. Run `dipdup migrate`\n  2. Review and commit changes\n"
}

// HandlerImportError is raised when a declared callback cannot be resolved from
// the user package. Fatal; lists probable causes.
type HandlerImportError struct {
	Module string
	Obj    string
}

func NewHandlerImportError(module, obj string) *HandlerImportError {
	return &HandlerImportError{Module: module, Obj: obj}
}
func (e *HandlerImportError) Error() string {
	return fmt.Sprintf("failed to import `%s` from `%s`", e.Obj, e.Module)
}
func (e *HandlerImportError) ExitCode() int { return 3 }
func (e *HandlerImportError) Help() string {
	return fmt.Sprintf(`Failed to import %q from %q.

Reasons in order of possibility:

  1. "init" command was not called after modifying config
  2. Name of handler module and handler function inside it don't match
  3. Invalid package config value, reusing name of existing package
  4. Something's wrong with the module search path
`, e.Obj, e.Module)
}

// ContractAlreadyExistsError is raised by runtime context calls when a contract
// name or address collides with an existing one. Surfaced to the caller, not fatal.
type ContractAlreadyExistsError struct {
	Name, Address string
	Active        map[string]string
}

func NewContractAlreadyExistsError(name, address string, active map[string]string) *ContractAlreadyExistsError {
	return &ContractAlreadyExistsError{Name: name, Address: address, Active: active}
}
func (e *ContractAlreadyExistsError) Error() string {
	return fmt.Sprintf("contract with name `%s` or address `%s` already exists", e.Name, e.Address)
}
func (e *ContractAlreadyExistsError) ExitCode() int { return 1 }
func (e *ContractAlreadyExistsError) Help() string {
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	for name, addr := range e.Active {
		table.Append([]string{name, addr})
	}
	table.Render()
	return e.Error() + "\n\nActive contracts:\n" + sb.String()
}

// IndexAlreadyExistsError is raised by runtime context calls when an index name
// collides with an existing one. Surfaced to the caller, not fatal.
type IndexAlreadyExistsError struct {
	Name   string
	Active []string
}

func NewIndexAlreadyExistsError(name string, active []string) *IndexAlreadyExistsError {
	return &IndexAlreadyExistsError{Name: name, Active: active}
}
func (e *IndexAlreadyExistsError) Error() string {
	return fmt.Sprintf("index with name `%s` already exists", e.Name)
}
func (e *IndexAlreadyExistsError) ExitCode() int { return 1 }
func (e *IndexAlreadyExistsError) Help() string {
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	for _, name := range e.Active {
		table.Append([]string{name})
	}
	table.Render()
	return e.Error() + "\n\nActive indexes:\n" + sb.String()
}

// InvalidDataError is raised when a payload fails to validate against the
// generated type. Fatal by default; callbacks may choose to catch it.
type InvalidDataError struct {
	Data string
}

func NewInvalidDataError(data string) *InvalidDataError { return &InvalidDataError{Data: data} }
func (e *InvalidDataError) Error() string {
	return "failed to validate operation/big_map data against a generated type"
}
func (e *InvalidDataError) ExitCode() int { return 1 }
func (e *InvalidDataError) Help() string {
	return fmt.Sprintf("Failed to validate operation/big_map data against a generated type class.\n\nInvalid data:\n%s\n", e.Data)
}

// CallbackKind distinguishes a handler callback from a hook callback for
// diagnostics (CallbackError/CallbackTypeError name both kind and callback name).
type CallbackKind string

const (
	CallbackKindHandler CallbackKind = "handler"
	CallbackKindHook    CallbackKind = "hook"
)

// CallbackError wraps any error raised inside a callback, preserving the
// original error and adding (kind, name). Fatal.
type CallbackError struct {
	Kind CallbackKind
	Name string
	Err  error
}

func NewCallbackError(kind CallbackKind, name string, err error) *CallbackError {
	return &CallbackError{Kind: kind, Name: name, Err: err}
}
func (e *CallbackError) Error() string {
	return fmt.Sprintf("%s `%s` callback raised an error: %v", e.Kind, e.Name, e.Err)
}
func (e *CallbackError) Unwrap() error { return e.Err }
func (e *CallbackError) ExitCode() int { return 4 }
func (e *CallbackError) Help() string  { return e.Error() }

// CallbackTypeError is raised when fire_hook's argument types don't match the
// hook's declared signature.
type CallbackTypeError struct {
	Name         string
	Kind         CallbackKind
	Arg          string
	Observed     string
	Expected     string
}

func NewCallbackTypeError(kind CallbackKind, name, arg, observed, expected string) *CallbackTypeError {
	return &CallbackTypeError{Kind: kind, Name: name, Arg: arg, Observed: observed, Expected: expected}
}
func (e *CallbackTypeError) Error() string {
	return fmt.Sprintf("%s `%s` argument `%s`: expected %s, got %s", e.Kind, e.Name, e.Arg, e.Expected, e.Observed)
}
func (e *CallbackTypeError) ExitCode() int { return 4 }
func (e *CallbackTypeError) Help() string  { return e.Error() }

// CallbackNotImplementedError marks a callback stub. For most hooks this is
// logged once; for on_rollback it escalates to a reindex (spec.md §7, §4.6).
type CallbackNotImplementedError struct {
	Kind CallbackKind
	Name string
}

func NewCallbackNotImplementedError(kind CallbackKind, name string) *CallbackNotImplementedError {
	return &CallbackNotImplementedError{Kind: kind, Name: name}
}
func (e *CallbackNotImplementedError) Error() string {
	return fmt.Sprintf("%s `%s` callback is not implemented", e.Kind, e.Name)
}

// InitializationRequiredError is raised when the user has not yet run `init`.
// Fatal.
type InitializationRequiredError struct{}

func NewInitializationRequiredError() *InitializationRequiredError {
	return &InitializationRequiredError{}
}
func (e *InitializationRequiredError) Error() string {
	return "run `dipdup init` before starting the indexer"
}
func (e *InitializationRequiredError) ExitCode() int { return 1 }
func (e *InitializationRequiredError) Help() string  { return e.Error() }
