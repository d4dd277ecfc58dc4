package backend

import (
	"github.com/maxgio92/pyrospy/pkg/sampler"
	"github.com/maxgio92/pyrospy/pkg/stack"
)

// toFrame converts a sampler frame. Empty paths and a zero line number
// mean the sampler did not know them: they become absent.
func toFrame(f sampler.StackFrame) stack.Frame {
	frame := stack.Frame{
		Name:         stack.String(f.Name),
		Module:       f.Module,
		AbsolutePath: f.AbsolutePath,
	}
	if f.RelativePath != "" {
		frame.Filename = stack.String(f.RelativePath)
		frame.RelativePath = stack.String(f.RelativePath)
	}
	if f.Lineno > 0 {
		frame.Line = stack.Line(f.Lineno)
	}

	return frame
}

func toTrace(t *sampler.StackTrace) stack.Trace {
	trace := stack.Trace{
		Frames:     make([]stack.Frame, 0, len(t.Frames)),
		ThreadName: t.ThreadName,
	}
	if t.Pid != nil {
		pid := uint32(*t.Pid)
		trace.Pid = &pid
	}
	if t.ThreadID != nil {
		tid := uint64(*t.ThreadID)
		trace.ThreadID = &tid
	}
	for _, f := range t.Frames {
		trace.Frames = append(trace.Frames, toFrame(f))
	}

	return trace
}
