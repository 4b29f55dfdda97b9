// Package model defines the core data types shared across the action engine.
package model

import "time"

// ActionType identifies the kind of transformation or inspection requested.
type ActionType string

// Built-in action types.
const (
	ActionRefactor ActionType = "refactor"
	ActionRename   ActionType = "rename"
	ActionDocument ActionType = "document"
	ActionGenerate ActionType = "generate"
	ActionExplain  ActionType = "explain"
	ActionFormat   ActionType = "format"
	ActionOptimize ActionType = "optimize"
)

// TargetType tags the variant of an action target.
type TargetType string

// Target variants.
const (
	TargetSelection TargetType = "selection"
	TargetFile      TargetType = "file"
	TargetFunction  TargetType = "function"
	TargetClass     TargetType = "class"
	TargetProject   TargetType = "project"
)

// Position is a zero-based line/column location in a buffer.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Target locates the code an action applies to. Which fields are
// meaningful depends on Type: selection carries Range, file carries
// Path, function and class carry Identifier, project carries nothing.
type Target struct {
	Type       TargetType `json:"type"`
	Range      *Range     `json:"range,omitempty"`
	Path       string     `json:"path,omitempty"`
	Identifier string     `json:"identifier,omitempty"`
}

// Action is a structured request to transform or inspect code.
// Immutable once submitted.
type Action struct {
	ID         string         `json:"id"`
	Type       ActionType     `json:"type"`
	Target     Target         `json:"target"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ChangeType is the kind of edit a CodeChange describes.
type ChangeType string

// Change kinds.
const (
	ChangeInsert  ChangeType = "insert"
	ChangeReplace ChangeType = "replace"
	ChangeDelete  ChangeType = "delete"
)

// CodeChange is a single edit the editor collaborator must apply.
type CodeChange struct {
	Type    ChangeType `json:"type"`
	Path    string     `json:"path"`
	Range   *Range     `json:"range,omitempty"`
	Content string     `json:"content,omitempty"`
}

// ActionResult is the outcome of executing one action. Changes is
// empty for read-only actions such as explain.
type ActionResult struct {
	Success  bool           `json:"success"`
	Changes  []CodeChange   `json:"changes,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// BufferState captures the editable state of a buffer at a point in time.
type BufferState struct {
	Content   string   `json:"content"`
	Selection *Range   `json:"selection,omitempty"`
	Cursor    Position `json:"cursor"`
	Path      string   `json:"path,omitempty"`
}

// ProcessedContext is what a provider derives from a context snapshot.
type ProcessedContext struct {
	Summary       string         `json:"summary"`
	RelevantFiles []string       `json:"relevant_files"`
	Suggestions   []string       `json:"suggestions"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
