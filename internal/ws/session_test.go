package ws

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "authorizing", StateAuthorizing.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
}

func TestSessionStartsConnecting(t *testing.T) {
	s := NewSession(nil, "conv-a", NewHub(), nil, nil, nil, zerolog.Nop(), "", "")
	require.Equal(t, StateConnecting, s.State())
	assert.NotEmpty(t, s.ID())

	s.BeginAuthorizing()
	assert.Equal(t, StateAuthorizing, s.State())
}

func TestDeliverNeverBlocks(t *testing.T) {
	s := NewSession(nil, "conv-a", NewHub(), nil, nil, nil, zerolog.Nop(), "", "")

	// Nothing drains the buffer; delivery must refuse rather than block.
	for i := 0; i < sendBufferSize; i++ {
		require.True(t, s.Deliver([]byte("x")))
	}
	assert.False(t, s.Deliver([]byte("overflow")))
}

func TestSessionIDsAreUnique(t *testing.T) {
	a := NewSession(nil, "conv-a", NewHub(), nil, nil, nil, zerolog.Nop(), "", "")
	b := NewSession(nil, "conv-a", NewHub(), nil, nil, nil, zerolog.Nop(), "", "")
	assert.NotEqual(t, a.ID(), b.ID())
}
