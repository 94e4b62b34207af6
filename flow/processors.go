package flow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/taskmesh/core"
	internalutil "github.com/hupe1980/taskmesh/internal/util"
	"github.com/hupe1980/taskmesh/output"
)

// buildSystemPrompt renders the agent instructions over the task variables
// and appends the output format guidance.
func buildSystemPrompt(instructions string, task *core.Task) (string, error) {
	rendered, err := internalutil.RenderTemplate(instructions, task.Vars)
	if err != nil {
		return "", fmt.Errorf("failed to render instructions: %w", err)
	}

	format := output.FormatInstructions(task)

	if strings.TrimSpace(rendered) == "" {
		return format, nil
	}

	return rendered + "\n\n" + format, nil
}

// buildTaskPrompt renders the user message describing the task, followed by
// the memory context block when one is present.
func buildTaskPrompt(task *core.Task, memoryContext string) string {
	var b strings.Builder

	b.WriteString("Task: ")
	b.WriteString(task.Description)

	if task.ExpectedOutput != "" {
		b.WriteString("\nExpected Output: ")
		b.WriteString(task.ExpectedOutput)
	}

	if memoryContext != "" {
		b.WriteString("\n\n")
		b.WriteString(memoryContext)
	}

	return b.String()
}

var memoryTypeOrder = []core.MemoryType{
	core.MemoryWorking,
	core.MemorySemantic,
	core.MemoryEpisodic,
	core.MemoryProcedural,
}

// selectMemories orders items by score (descending, stable) and keeps at
// most limit of them. A limit below one keeps everything.
func selectMemories(items []core.MemoryItem, limit int) []core.MemoryItem {
	sorted := append([]core.MemoryItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	return sorted
}

// renderMemoryContext groups items by memory type. Groups appear in a fixed
// type order; items keep their relative order inside a group.
func renderMemoryContext(items []core.MemoryItem) string {
	if len(items) == 0 {
		return ""
	}

	grouped := make(map[core.MemoryType][]core.MemoryItem, len(memoryTypeOrder))

	var other []core.MemoryItem

	for _, it := range items {
		switch it.Type {
		case core.MemoryWorking, core.MemorySemantic, core.MemoryEpisodic, core.MemoryProcedural:
			grouped[it.Type] = append(grouped[it.Type], it)
		default:
			other = append(other, it)
		}
	}

	var b strings.Builder

	b.WriteString("=== AGENT MEMORY CONTEXT ===\n\n")

	writeGroup := func(label string, group []core.MemoryItem) {
		if len(group) == 0 {
			return
		}

		fmt.Fprintf(&b, "--- %s Memory ---\n", label)

		for _, it := range group {
			fmt.Fprintf(&b, "• %s\n", it.Content)
		}

		b.WriteByte('\n')
	}

	for _, typ := range memoryTypeOrder {
		writeGroup(typ.Label(), grouped[typ])
	}

	writeGroup("Other", other)

	b.WriteString("=== END MEMORY CONTEXT ===")

	return b.String()
}
