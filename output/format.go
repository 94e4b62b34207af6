package output

import (
	"fmt"
	"strings"

	"github.com/hupe1980/taskmesh/core"
)

// FormatInstructions returns the guidance appended to the system
// instructions for the task's output format. JSON tasks include a rendering
// of the expected structure.
func FormatInstructions(task *core.Task) string {
	switch task.Format {
	case core.FormatJSON:
		var b strings.Builder

		b.WriteString("Provide your response in valid JSON format. Return raw JSON only, without markdown code fences or commentary.")

		if len(task.Schema) > 0 {
			b.WriteString("\n\nThe JSON object must have this structure:\n")
			writeObject(&b, task.Schema, 0)
		}

		if task.Strict {
			b.WriteString("\n\nIMPORTANT: Only include the specified fields. Additional fields are not allowed.")
		}

		return b.String()
	case core.FormatMarkdown:
		return "Provide your response in Markdown format. Use appropriate headers, lists, and formatting."
	case core.FormatHTML:
		return "Provide your response in HTML format. Use proper HTML tags and structure."
	default:
		return "Provide your response in plain text format. Be clear and concise."
	}
}

func writeObject(b *strings.Builder, fields []core.Field, indent int) {
	pad := strings.Repeat("  ", indent)

	b.WriteString("{\n")

	for i, f := range fields {
		fmt.Fprintf(b, "%s  %q: ", pad, f.Name)
		writeType(b, f, indent+1)

		if i < len(fields)-1 {
			b.WriteString(",")
		}

		marker := "OPTIONAL"
		if f.Required {
			marker = "REQUIRED"
		}

		fmt.Fprintf(b, " // %s", marker)

		if f.Description != "" {
			fmt.Fprintf(b, " - %s", f.Description)
		}

		b.WriteString("\n")
	}

	b.WriteString(pad + "}")
}

func writeType(b *strings.Builder, f core.Field, indent int) {
	switch {
	case f.Type == core.TypeObject && len(f.Fields) > 0:
		writeObject(b, f.Fields, indent)
	case f.Type == core.TypeArray && f.Items != nil:
		b.WriteString("[")
		writeType(b, *f.Items, indent)
		b.WriteString(", ...]")
	default:
		fmt.Fprintf(b, "<%s>", f.Type)
	}
}

// CorrectionMessage builds the user message asking the model to fix its
// previous answer. Every violation is listed.
func CorrectionMessage(violations []Violation) string {
	var b strings.Builder

	b.WriteString("Your previous response was invalid:\n")

	for _, v := range violations {
		fmt.Fprintf(&b, "- %s\n", v.Error())
	}

	b.WriteString("Please provide a corrected response in the required format.")

	return b.String()
}

// StripCodeFence removes a surrounding markdown code fence (``` or ```json)
// and surrounding whitespace. Text without a fence is only trimmed.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	body := strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = strings.TrimLeft(body, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	}

	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")

	return strings.TrimSpace(body)
}
