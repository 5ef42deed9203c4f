package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRegistry(t *testing.T) {
	m := NewManager()
	m.Register(NewPayFortAdapter("AC", "MID", "req", "resp", false))

	gw, err := m.Gateway("payfort")
	require.NoError(t, err)
	assert.Equal(t, "payfort", gw.Name())

	_, err = m.Gateway("stripe")
	assert.Error(t, err)
}
