package titan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameIDGenerator(t *testing.T) {
	require := require.New(t)

	t.Run("Fixed", func(t *testing.T) {
		gen := NewFrameIDGenerator(FixedFrameID, 0)
		for i := 0; i < 300; i++ {
			require.Equal(byte(0), gen.Next())
		}
	})

	t.Run("Monotonic wraps", func(t *testing.T) {
		gen := NewFrameIDGenerator(MonotonicFrameID, 0xFE)
		require.Equal(byte(0xFE), gen.Next())
		require.Equal(byte(0xFF), gen.Next())
		require.Equal(byte(0x00), gen.Next())
		require.Equal(byte(0x01), gen.Next())
		require.Equal("monotonic", gen.Mode().String())
	})
}
