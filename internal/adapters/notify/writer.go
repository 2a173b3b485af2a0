// Package notify provides adapters that surface notices to the user.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// Writer writes each notice as a single line to the configured destination.
// By default, it writes to stderr so stdout stays free for command output.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

var _ domain.Notifier = (*Writer)(nil)

// NewWriter creates a new Writer that writes to stderr.
func NewWriter() *Writer {
	return &Writer{out: os.Stderr}
}

// NewWriterWithOutput creates a new Writer with a custom output destination.
// This is useful for testing.
func NewWriterWithOutput(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Notify writes n as "docsync <operation> [<level>]: <message>".
// Line breaks inside the message are flattened so one notice is always one line.
func (w *Writer) Notify(_ context.Context, n domain.Notice) {
	msg := strings.Join(strings.Fields(n.Message), " ")

	prefix := "docsync"
	if n.Operation != "" {
		prefix += " " + string(n.Operation)
	}
	if n.Level != "" {
		prefix += " [" + string(n.Level) + "]"
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	// A notice that cannot be written has nowhere else to go.
	_, _ = fmt.Fprintf(w.out, "%s: %s\n", prefix, msg)
}
