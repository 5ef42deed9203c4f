package refid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	g, err := NewGenerator("test-salt")
	require.NoError(t, err)

	for _, id := range []int64{1, 42, 99999, 1 << 40} {
		ref, err := g.Encode(id)
		require.NoError(t, err)
		assert.True(t, len(ref) >= len("PAY-")+10)

		got, err := g.Decode(ref)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	g, err := NewGenerator("test-salt")
	require.NoError(t, err)

	for _, ref := range []string{"", "PAY-", "nonsense", "PAY-!!!!", "pay-ABCDEFGHJK"} {
		_, err := g.Decode(ref)
		assert.ErrorIs(t, err, ErrInvalidRef, ref)
	}
}

func TestDifferentSaltsDisagree(t *testing.T) {
	a, err := NewGenerator("salt-a")
	require.NoError(t, err)
	b, err := NewGenerator("salt-b")
	require.NoError(t, err)

	ref, err := a.Encode(7)
	require.NoError(t, err)

	if got, err := b.Decode(ref); err == nil {
		assert.NotEqual(t, int64(7), got)
	}
}
