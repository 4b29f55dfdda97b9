package model

// BufferContext describes the buffer section of a context snapshot.
type BufferContext struct {
	Content   string   `json:"content"`
	Language  string   `json:"language"`
	Selection *Range   `json:"selection,omitempty"`
	Cursor    Position `json:"cursor"`
	Path      string   `json:"path,omitempty"`
	Modified  bool     `json:"modified"`
}

// ProjectContext describes the project section of a context snapshot.
type ProjectContext struct {
	Structure    []string          `json:"structure"`
	Config       map[string]any    `json:"config,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// ExecutionContext describes recent execution state.
type ExecutionContext struct {
	History        []string          `json:"history"`
	CurrentProcess string            `json:"current_process,omitempty"`
	Environment    map[string]string `json:"environment,omitempty"`
}

// UserContext describes user preferences and recent activity.
type UserContext struct {
	Preferences    map[string]any `json:"preferences,omitempty"`
	RecentActions  []string       `json:"recent_actions,omitempty"`
	ActiveFeatures []string       `json:"active_features,omitempty"`
}

// ContextSnapshot is a point-in-time view of editor, project,
// execution and user state. The engine consumes snapshots built by a
// collaborator; it never reads buffers or files itself.
type ContextSnapshot struct {
	Buffer    BufferContext    `json:"buffer"`
	Project   ProjectContext   `json:"project"`
	Execution ExecutionContext `json:"execution"`
	User      UserContext      `json:"user"`
}

// BufferState returns the buffer section reduced to restorable state.
func (c ContextSnapshot) BufferState() BufferState {
	return BufferState{
		Content:   c.Buffer.Content,
		Selection: cloneRange(c.Buffer.Selection),
		Cursor:    c.Buffer.Cursor,
		Path:      c.Buffer.Path,
	}
}

func cloneRange(r *Range) *Range {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}
