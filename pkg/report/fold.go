package report

import (
	"bytes"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Fold writes the report in folded format, one line per distinct trace:
//
//	[thread;]root;...;leaf count
//
// Lines are sorted, so identical reports always encode to identical
// bytes.
func (r *Report) Fold(w io.Writer, withThreadName bool) error {
	lines, err := r.lines(withThreadName, false)
	if err != nil {
		return err
	}

	return writeLines(w, lines)
}

// Encode returns the folded encoding of the report.
func (r *Report) Encode(withThreadName bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Fold(&buf, withThreadName); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Flush writes the folded encoding of the report and clears it within the
// same critical section: a trace recorded concurrently lands either in
// this encoding or in the next window, never in neither.
func (r *Report) Flush(w io.Writer, withThreadName bool) error {
	lines, err := r.lines(withThreadName, true)
	if err != nil {
		return err
	}

	return writeLines(w, lines)
}

func (r *Report) lines(withThreadName, clear bool) ([]string, error) {
	if err := r.lock(); err != nil {
		return nil, err
	}
	defer r.unlock()

	lines := make([]string, 0, len(r.data))
	for _, e := range r.data {
		lines = append(lines, foldLine(e, withThreadName))
	}
	if clear {
		r.data = make(map[string]*entry)
	}
	sort.Strings(lines)

	return lines, nil
}

func foldLine(e *entry, withThreadName bool) string {
	var b strings.Builder

	if withThreadName {
		b.WriteString(e.trace.Thread())
		b.WriteByte(';')
	}

	// Frames are captured leaf first: write them root first.
	frames := e.trace.Frames
	for i := len(frames) - 1; i >= 0; i-- {
		b.WriteString(frames[i].Symbol())
		if i > 0 {
			b.WriteByte(';')
		}
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(e.count, 10))
	b.WriteByte('\n')

	return b.String()
}

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := io.WriteString(w, line); err != nil {
			return errors.Wrap(err, "error writing folded report")
		}
	}

	return nil
}
