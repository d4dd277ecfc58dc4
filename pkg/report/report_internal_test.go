package report

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/pyrospy/pkg/stack"
)

func TestPanicPoisonsReport(t *testing.T) {
	r := New()
	require.NoError(t, r.Record(stack.Trace{}))

	require.Panics(t, func() {
		require.NoError(t, r.lock())
		defer r.unlock()
		panic("boom")
	})

	require.ErrorIs(t, r.Record(stack.Trace{}), ErrPoisoned)
	require.ErrorIs(t, r.Clear(), ErrPoisoned)
	_, err := r.Encode(false)
	require.ErrorIs(t, err, ErrPoisoned)
	require.ErrorIs(t, r.Merge(New()), ErrPoisoned)
}
