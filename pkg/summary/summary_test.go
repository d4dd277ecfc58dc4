package summary_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/pyrospy/pkg/summary"
)

func TestNewSummaryWithOptions(t *testing.T) {
	from := time.Unix(1000, 0).UTC()
	until := from.Add(10 * time.Second)

	s := summary.New(
		summary.WithApplication("app.cpu"),
		summary.WithSpyName("procspy"),
		summary.WithSampleRate(100),
		summary.WithSamples(500, 12),
		summary.WithWindow(from, until),
	)

	require.Equal(t, "app.cpu", s.Application)
	require.Equal(t, "procspy", s.SpyName)
	require.EqualValues(t, 100, s.SampleRate)
	require.EqualValues(t, 500, s.Samples)
	require.Equal(t, 12, s.Stacks)
	require.Equal(t, 10*time.Second, s.Duration())
	require.InDelta(t, 0.5, s.Coverage(), 1e-9)
}

func TestCoverageWithoutDuration(t *testing.T) {
	s := summary.New(summary.WithSampleRate(100), summary.WithSamples(10, 1))
	require.Zero(t, s.Coverage())
}

func TestWriteSummaryJSONOutput(t *testing.T) {
	from := time.Unix(1000, 0).UTC()
	s := summary.New(
		summary.WithSpyName("gospy"),
		summary.WithSamples(3, 2),
		summary.WithWindow(from, from.Add(time.Second)),
	)

	var buf bytes.Buffer
	err := s.WriteSummary(&buf)
	require.NoError(t, err)

	var parsed summary.Summary
	err = json.Unmarshal(buf.Bytes(), &parsed)
	require.NoError(t, err)

	require.Equal(t, s, &parsed)
}

func TestWriteSummaryContainsExpectedFields(t *testing.T) {
	s := summary.New(
		summary.WithApplication("myapp"),
		summary.WithSpyName("procspy"),
	)

	var buf bytes.Buffer
	err := s.WriteSummary(&buf)
	require.NoError(t, err)

	output := buf.String()
	require.True(t, strings.Contains(output, `"application":"myapp"`))
	require.True(t, strings.Contains(output, "spy_name"))
	require.True(t, strings.Contains(output, "sample_rate"))
	require.True(t, strings.Contains(output, "stacks"))
}
