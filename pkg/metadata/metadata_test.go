package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	// The default backend is "none"; runs without a database still work.
	backend, err := NewDefault("7B5D11C2-2F2C-4CB4-9B95-8D4E1E5E9C1D")
	require.NoError(t, err)
	assert.IsType(t, Discard{}, backend)
}

func TestDiscard(t *testing.T) {
	backend := Discard{}

	assert.NoError(t, backend.Record("time", "now", TypeEmpty))
	assert.NoError(t, backend.RecordMap(map[string]string{"gbps": "20"}, TypeFlags))
	assert.NoError(t, backend.Clear())

	// Reads are refused; there is nothing to read back.
	_, err := backend.GetByKind(TypeFlags)
	assert.Error(t, err)
}
