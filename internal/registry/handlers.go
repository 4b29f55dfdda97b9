package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/PixelDroid19/orbis-core/internal/model"
)

// The built-in handlers are heuristic placeholders. They keep the
// validation/execution/rollback contract exercisable when no capable
// provider is registered; real transformations are delegated to
// providers.

func builtinDefinitions() []Definition {
	return []Definition{
		{
			Type:               model.ActionRefactor,
			Name:               "Refactor",
			Description:        "Restructure code without changing behavior",
			SupportedTargets:   []model.TargetType{model.TargetSelection, model.TargetFile, model.TargetFunction, model.TargetClass},
			OptionalParameters: []string{"style", "goal"},
			Handler:            handleRefactor,
		},
		{
			Type:               model.ActionRename,
			Name:               "Rename",
			Description:        "Rename an identifier across its scope",
			SupportedTargets:   []model.TargetType{model.TargetFunction, model.TargetClass, model.TargetSelection},
			RequiredParameters: []string{"newName"},
			Handler:            handleRename,
		},
		{
			Type:               model.ActionDocument,
			Name:               "Document",
			Description:        "Add documentation to the target",
			SupportedTargets:   []model.TargetType{model.TargetFunction, model.TargetClass, model.TargetFile},
			OptionalParameters: []string{"style"},
			Handler:            handleDocument,
		},
		{
			Type:               model.ActionGenerate,
			Name:               "Generate",
			Description:        "Generate code from a description",
			SupportedTargets:   []model.TargetType{model.TargetSelection, model.TargetFile},
			RequiredParameters: []string{"description"},
			Handler:            handleGenerate,
		},
		{
			Type:             model.ActionExplain,
			Name:             "Explain",
			Description:      "Explain what the target does",
			SupportedTargets: []model.TargetType{model.TargetSelection, model.TargetFile, model.TargetFunction, model.TargetClass, model.TargetProject},
			Handler:          handleExplain,
		},
		{
			Type:               model.ActionFormat,
			Name:               "Format",
			Description:        "Normalize whitespace and layout",
			SupportedTargets:   []model.TargetType{model.TargetSelection, model.TargetFile},
			OptionalParameters: []string{"indent"},
			Handler:            handleFormat,
		},
		{
			Type:               model.ActionOptimize,
			Name:               "Optimize",
			Description:        "Suggest performance improvements",
			SupportedTargets:   []model.TargetType{model.TargetSelection, model.TargetFile, model.TargetFunction},
			OptionalParameters: []string{"level"},
			Handler:            handleOptimize,
		},
	}
}

func handleRefactor(_ context.Context, action model.Action, snapshot model.ContextSnapshot) model.ActionResult {
	content := targetContent(action.Target, snapshot)
	change := model.CodeChange{
		Type:    model.ChangeReplace,
		Path:    targetPath(action.Target, snapshot),
		Range:   action.Target.Range,
		Content: content,
	}
	return model.ActionResult{
		Success: true,
		Changes: []model.CodeChange{change},
		Metadata: map[string]any{
			"handler": "builtin",
			"note":    "heuristic refactor placeholder; no semantic transformation applied",
			"goal":    stringParam(action, "goal"),
		},
	}
}

func handleRename(_ context.Context, action model.Action, snapshot model.ContextSnapshot) model.ActionResult {
	newName, _ := action.Parameters["newName"].(string)
	oldName := action.Target.Identifier
	if oldName == "" {
		oldName = selectionText(action.Target, snapshot)
	}
	content := snapshot.Buffer.Content
	if oldName != "" {
		content = strings.ReplaceAll(content, oldName, newName)
	}
	return model.ActionResult{
		Success: true,
		Changes: []model.CodeChange{{
			Type:    model.ChangeReplace,
			Path:    targetPath(action.Target, snapshot),
			Content: content,
		}},
		Metadata: map[string]any{
			"handler": "builtin",
			"oldName": oldName,
			"newName": newName,
		},
	}
}

func handleDocument(_ context.Context, action model.Action, snapshot model.ContextSnapshot) model.ActionResult {
	subject := action.Target.Identifier
	if subject == "" {
		subject = targetPath(action.Target, snapshot)
	}
	comment := fmt.Sprintf("// %s documents %s.\n", capitalize(subject), subject)
	insertAt := &model.Range{}
	if action.Target.Range != nil {
		insertAt = &model.Range{Start: action.Target.Range.Start, End: action.Target.Range.Start}
	}
	return model.ActionResult{
		Success: true,
		Changes: []model.CodeChange{{
			Type:    model.ChangeInsert,
			Path:    targetPath(action.Target, snapshot),
			Range:   insertAt,
			Content: comment,
		}},
		Metadata: map[string]any{"handler": "builtin", "subject": subject},
	}
}

func handleGenerate(_ context.Context, action model.Action, snapshot model.ContextSnapshot) model.ActionResult {
	description, _ := action.Parameters["description"].(string)
	stub := fmt.Sprintf("// TODO(generated): %s\n", description)
	return model.ActionResult{
		Success: true,
		Changes: []model.CodeChange{{
			Type:    model.ChangeInsert,
			Path:    targetPath(action.Target, snapshot),
			Range:   action.Target.Range,
			Content: stub,
		}},
		Metadata: map[string]any{"handler": "builtin", "description": description},
	}
}

func handleExplain(_ context.Context, action model.Action, snapshot model.ContextSnapshot) model.ActionResult {
	content := targetContent(action.Target, snapshot)
	lines := strings.Count(content, "\n") + 1
	return model.ActionResult{
		Success: true,
		Metadata: map[string]any{
			"handler":     "builtin",
			"explanation": fmt.Sprintf("Target spans %d lines of %s code.", lines, snapshot.Buffer.Language),
			"lineCount":   lines,
		},
	}
}

func handleFormat(_ context.Context, action model.Action, snapshot model.ContextSnapshot) model.ActionResult {
	content := targetContent(action.Target, snapshot)
	formatted := normalizeWhitespace(content)
	if formatted == content {
		return model.ActionResult{
			Success:  true,
			Metadata: map[string]any{"handler": "builtin", "note": "already formatted"},
		}
	}
	return model.ActionResult{
		Success: true,
		Changes: []model.CodeChange{{
			Type:    model.ChangeReplace,
			Path:    targetPath(action.Target, snapshot),
			Range:   action.Target.Range,
			Content: formatted,
		}},
		Metadata: map[string]any{"handler": "builtin"},
	}
}

func handleOptimize(_ context.Context, action model.Action, snapshot model.ContextSnapshot) model.ActionResult {
	content := targetContent(action.Target, snapshot)
	var suggestions []string
	if strings.Contains(content, "for") && strings.Contains(content, "append") {
		suggestions = append(suggestions, "preallocate slices grown inside loops")
	}
	if strings.Contains(content, "+ \"") || strings.Contains(content, "\" +") {
		suggestions = append(suggestions, "use strings.Builder for repeated concatenation")
	}
	if len(suggestions) == 0 {
		suggestions = append(suggestions, "no obvious optimizations found")
	}
	return model.ActionResult{
		Success: true,
		Metadata: map[string]any{
			"handler":     "builtin",
			"suggestions": suggestions,
		},
	}
}

func targetPath(target model.Target, snapshot model.ContextSnapshot) string {
	if target.Path != "" {
		return target.Path
	}
	return snapshot.Buffer.Path
}

func targetContent(target model.Target, snapshot model.ContextSnapshot) string {
	if target.Type == model.TargetSelection {
		if text := selectionText(target, snapshot); text != "" {
			return text
		}
	}
	return snapshot.Buffer.Content
}

// selectionText extracts the selected lines from the buffer; column
// precision is not needed by the heuristic handlers.
func selectionText(target model.Target, snapshot model.ContextSnapshot) string {
	if target.Range == nil {
		return ""
	}
	lines := strings.Split(snapshot.Buffer.Content, "\n")
	start := target.Range.Start.Line
	end := target.Range.End.Line
	if start < 0 || start >= len(lines) || end < start {
		return ""
	}
	if end >= len(lines) {
		end = len(lines) - 1
	}
	return strings.Join(lines[start:end+1], "\n")
}

func normalizeWhitespace(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func stringParam(action model.Action, name string) string {
	v, _ := action.Parameters[name].(string)
	return v
}
