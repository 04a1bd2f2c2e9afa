package reporter

import (
	"strings"

	"github.com/perfgo/flakiness/model"
)

// extractError converts a runner failure into a report error. Each available
// piece of structure upgrades the result; nothing is removed once set.
func (r *Reporter) extractError(f *model.Failure) *model.ReportError {
	if f == nil {
		return nil
	}

	if f.Plain {
		return &model.ReportError{Message: f.Text}
	}

	e := &model.ReportError{
		Message: f.Text,
		Stack:   f.Text,
	}

	if c := f.Crash; c != nil {
		if c.Message != "" {
			e.Message = c.Message
		}
		if c.Path != "" && r.opts.Paths != nil {
			line0 := 0
			if c.Line != nil {
				line0 = *c.Line
			}
			e.Location = r.opts.Paths.Location(c.Path, line0)
		}
	}

	if n := len(f.Traceback); n > 0 {
		if last := f.Traceback[n-1]; len(last.Lines) > 0 {
			e.Snippet = strings.Join(last.Lines, "\n")
		}
	}

	return e
}
