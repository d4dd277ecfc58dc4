package report

import (
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/google/pprof/profile"
	"github.com/pkg/errors"

	"github.com/maxgio92/pyrospy/pkg/stack"
)

const threadLabel = "thread"

// Profile converts the report to a pprof profile of sample counts. The
// period is derived from the sample rate, in samples per second.
func (r *Report) Profile(sampleRate uint32, start time.Time, duration time.Duration) (*profile.Profile, error) {
	snapshot, err := r.snapshot()
	if err != nil {
		return nil, err
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
		},
		PeriodType:    &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		TimeNanos:     start.UnixNano(),
		DurationNanos: duration.Nanoseconds(),
	}
	if sampleRate > 0 {
		p.Period = int64(time.Second) / int64(sampleRate)
	}

	b := &profileBuilder{
		profile:   p,
		functions: make(map[string]*profile.Function),
		locations: make(map[string]*profile.Location),
	}

	// Map order would make IDs vary between runs.
	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		e := snapshot[key]
		sample := &profile.Sample{
			Value: []int64{int64(e.count)},
		}
		// pprof locations are leaf first too.
		for _, f := range e.trace.Frames {
			sample.Location = append(sample.Location, b.location(f))
		}
		if e.trace.ThreadName != nil || e.trace.ThreadID != nil {
			sample.Label = map[string][]string{threadLabel: {e.trace.Thread()}}
		}
		p.Sample = append(p.Sample, sample)
	}

	if err := p.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "error building pprof profile")
	}

	return p, nil
}

// WriteProfile writes the report as a gzipped pprof protobuf.
func (r *Report) WriteProfile(w io.Writer, sampleRate uint32, start time.Time, duration time.Duration) error {
	p, err := r.Profile(sampleRate, start, duration)
	if err != nil {
		return err
	}
	if err := p.Write(w); err != nil {
		return errors.Wrap(err, "error writing pprof profile")
	}

	return nil
}

type profileBuilder struct {
	profile   *profile.Profile
	functions map[string]*profile.Function
	locations map[string]*profile.Location
}

// location keys on the line too, which the symbol omits for frames
// without a file.
func (b *profileBuilder) location(f stack.Frame) *profile.Location {
	key := f.Symbol()
	if f.Line != nil {
		key += "\x00" + strconv.FormatUint(uint64(*f.Line), 10)
	}
	if loc, ok := b.locations[key]; ok {
		return loc
	}

	line := profile.Line{Function: b.function(f)}
	if f.Line != nil {
		line.Line = int64(*f.Line)
	}
	loc := &profile.Location{
		ID:   uint64(len(b.profile.Location) + 1),
		Line: []profile.Line{line},
	}
	b.locations[key] = loc
	b.profile.Location = append(b.profile.Location, loc)

	return loc
}

func (b *profileBuilder) function(f stack.Frame) *profile.Function {
	name := f.Symbol()
	if f.Name != nil && *f.Name != "" {
		name = *f.Name
	}
	filename := f.File()

	key := name + "\x00" + filename
	if fn, ok := b.functions[key]; ok {
		return fn
	}

	fn := &profile.Function{
		ID:         uint64(len(b.profile.Function) + 1),
		Name:       name,
		SystemName: name,
		Filename:   filename,
	}
	b.functions[key] = fn
	b.profile.Function = append(b.profile.Function, fn)

	return fn
}
