package agent

import "github.com/hupe1980/taskmesh/core"

// Provider supplies instruction text at runtime, derived from the task about
// to run.
type Provider interface {
	Instruction(task core.Task) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(task core.Task) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(task core.Task) (string, error) { return f(task) }

// Instruction represents either a static instruction string or a dynamic provider.
// Resolved text may reference task variables using text/template syntax.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(task core.Task) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(task core.Task) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(task)
	}

	return i.text, nil
}
