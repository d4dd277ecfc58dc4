package stack

import (
	"strconv"
	"strings"
)

// Trace is a sampled stack: frames are ordered innermost first, as
// produced by the sampler.
type Trace struct {
	Frames     []Frame
	Pid        *uint32
	ThreadID   *uint64
	ThreadName *string
}

// Thread returns the text identifying the sampled thread: its name when
// not empty, its id otherwise.
func (t Trace) Thread() string {
	if t.ThreadName != nil && *t.ThreadName != "" {
		return *t.ThreadName
	}
	if t.ThreadID != nil {
		return strconv.FormatUint(*t.ThreadID, 10)
	}
	return unknownSymbol
}

// Key returns the normalized identity of the trace: thread identity plus
// the full frame sequence. Field presence is part of the key, so a frame
// without a name and a frame with an empty name never collide.
func (t Trace) Key() string {
	var b strings.Builder

	writeUint(&b, t.ThreadID)
	writeString(&b, t.ThreadName)
	for _, f := range t.Frames {
		b.WriteByte('|')
		writeString(&b, f.Module)
		writeString(&b, f.Name)
		writeString(&b, f.Filename)
		writeString(&b, f.RelativePath)
		writeString(&b, f.AbsolutePath)
		if f.Line == nil {
			b.WriteByte('-')
		} else {
			b.WriteByte('+')
			b.WriteString(strconv.FormatUint(uint64(*f.Line), 10))
		}
	}

	return b.String()
}

// Clone returns a deep copy of the trace, so that retained traces never
// alias sampler-owned memory.
func (t Trace) Clone() Trace {
	c := Trace{
		Frames:     make([]Frame, len(t.Frames)),
		Pid:        clonePtr(t.Pid),
		ThreadID:   clonePtr(t.ThreadID),
		ThreadName: clonePtr(t.ThreadName),
	}
	for i, f := range t.Frames {
		c.Frames[i] = Frame{
			Module:       clonePtr(f.Module),
			Name:         clonePtr(f.Name),
			Filename:     clonePtr(f.Filename),
			RelativePath: clonePtr(f.RelativePath),
			AbsolutePath: clonePtr(f.AbsolutePath),
			Line:         clonePtr(f.Line),
		}
	}
	return c
}

// Length-prefixed so that separators inside values cannot forge a key.
func writeString(b *strings.Builder, s *string) {
	if s == nil {
		b.WriteByte('-')
		return
	}
	b.WriteByte('+')
	b.WriteString(strconv.Itoa(len(*s)))
	b.WriteByte(':')
	b.WriteString(*s)
}

func writeUint(b *strings.Builder, n *uint64) {
	if n == nil {
		b.WriteByte('-')
		return
	}
	b.WriteByte('+')
	b.WriteString(strconv.FormatUint(*n, 10))
	b.WriteByte(';')
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
