package stack

import (
	"fmt"
	"strings"
)

const unknownSymbol = "unknown"

// Frame is one location of a stack trace. Every field is optional, as
// different samplers supply different subsets: a nil field is absent,
// which is not the same as a field holding the empty string.
type Frame struct {
	Module       *string
	Name         *string
	Filename     *string
	RelativePath *string
	AbsolutePath *string
	Line         *uint32
}

// Symbol returns the most identifying text of the frame, as written in
// folded output.
func (f Frame) Symbol() string {
	var b strings.Builder

	if f.Module != nil && *f.Module != "" {
		b.WriteString(*f.Module)
		b.WriteString("`")
	}
	if f.Name != nil {
		b.WriteString(*f.Name)
	}

	file := f.File()
	if file != "" {
		if b.Len() > 0 {
			b.WriteString(" - ")
		}
		b.WriteString(file)
		if f.Line != nil {
			fmt.Fprintf(&b, ":%d", *f.Line)
		}
	}

	if b.Len() == 0 {
		return unknownSymbol
	}

	return b.String()
}

// File returns the filename, falling back to the relative and then the
// absolute path.
func (f Frame) File() string {
	for _, s := range []*string{f.Filename, f.RelativePath, f.AbsolutePath} {
		if s != nil && *s != "" {
			return *s
		}
	}
	return ""
}

// String returns a pointer to s, for filling optional fields.
func String(s string) *string {
	return &s
}

// Line returns a pointer to n, for filling the optional line field.
func Line(n uint32) *uint32 {
	return &n
}
