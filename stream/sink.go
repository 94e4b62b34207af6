package stream

import (
	"fmt"
	"io"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// Sink receives display notifications while a task streams. Calls are
// synchronous and fire-and-forget: a Sink must return quickly and cannot
// influence the conversation. OnToolCallExecuted may be called from the
// conversation loop goroutine only; every other method is called from the
// stream consumer.
type Sink interface {
	OnContent(delta string)
	OnToolCallStart(index int, id, name string)
	OnToolCallArguments(index int, fragment string)
	OnToolCallReady(index int, id, name, arguments string)
	OnToolCallExecuted(rec core.ToolCallRecord)
	OnFinal(content string)
	OnError(err error)
}

// NopSink ignores every notification.
type NopSink struct{}

func (NopSink) OnContent(string) {}
func (NopSink) OnToolCallStart(int, string, string) {}
func (NopSink) OnToolCallArguments(int, string) {}
func (NopSink) OnToolCallReady(int, string, string, string) {}
func (NopSink) OnToolCallExecuted(core.ToolCallRecord) {}
func (NopSink) OnFinal(string) {}
func (NopSink) OnError(error) {}

// Funcs adapts optional callbacks to a Sink. Nil callbacks are skipped.
type Funcs struct {
	Content       func(delta string)
	ToolStart     func(index int, id, name string)
	ToolArguments func(index int, fragment string)
	ToolReady     func(index int, id, name, arguments string)
	ToolExecuted  func(rec core.ToolCallRecord)
	Final         func(content string)
	Error         func(err error)
}

func (f Funcs) OnContent(delta string) {
	if f.Content != nil {
		f.Content(delta)
	}
}

func (f Funcs) OnToolCallStart(index int, id, name string) {
	if f.ToolStart != nil {
		f.ToolStart(index, id, name)
	}
}

func (f Funcs) OnToolCallArguments(index int, fragment string) {
	if f.ToolArguments != nil {
		f.ToolArguments(index, fragment)
	}
}

func (f Funcs) OnToolCallReady(index int, id, name, arguments string) {
	if f.ToolReady != nil {
		f.ToolReady(index, id, name, arguments)
	}
}

func (f Funcs) OnToolCallExecuted(rec core.ToolCallRecord) {
	if f.ToolExecuted != nil {
		f.ToolExecuted(rec)
	}
}

func (f Funcs) OnFinal(content string) {
	if f.Final != nil {
		f.Final(content)
	}
}

func (f Funcs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// WriterSink prints streamed content and tool activity to an io.Writer,
// typically os.Stdout. It is safe for concurrent use so one sink can serve
// tasks running in parallel.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a WriterSink writing to w.
func NewWriterSink(w io.Writer) *WriterSink { return &WriterSink{w: w} }

func (s *WriterSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = fmt.Fprintf(s.w, format, args...)
}

func (s *WriterSink) OnContent(delta string) { s.printf("%s", delta) }

func (s *WriterSink) OnToolCallStart(_ int, _ string, name string) {
	s.printf("\n[tool] calling %s\n", name)
}

func (s *WriterSink) OnToolCallArguments(int, string) {}

func (s *WriterSink) OnToolCallReady(_ int, _ string, name, arguments string) {
	s.printf("[tool] %s ready with %s\n", name, arguments)
}

func (s *WriterSink) OnToolCallExecuted(rec core.ToolCallRecord) {
	s.printf("[tool] %s %s in %dms\n", rec.Name, rec.Status, rec.Duration.Milliseconds())
}

func (s *WriterSink) OnFinal(string) { s.printf("\n") }

func (s *WriterSink) OnError(err error) { s.printf("\n[error] %v\n", err) }
