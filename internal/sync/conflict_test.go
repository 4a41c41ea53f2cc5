package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConflict(t *testing.T) {
	tests := []struct {
		name      string
		localMod  int64
		remoteMod int64
		policy    ConflictPolicy
		want      Winner
	}{
		{"local policy", 1000, 5000, PolicyLocal, WinnerLocal},
		{"remote policy", 5000, 1000, PolicyRemote, WinnerRemote},
		{"newer remote", 1000, 5000, PolicyNewer, WinnerRemote},
		{"newer local", 5000, 1000, PolicyNewer, WinnerLocal},
		{"tie goes local", 3000, 3000, PolicyNewer, WinnerLocal},
		{"ask behaves like newer", 1000, 5000, PolicyAsk, WinnerRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveConflict(tt.localMod, tt.remoteMod, tt.policy))
		})
	}
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, WithinTolerance(1000, 1500, time.Second))
	assert.True(t, WithinTolerance(2000, 1000, time.Second), "boundary is inclusive")
	assert.False(t, WithinTolerance(1000, 5000, time.Second))
	assert.False(t, WithinTolerance(1000, 1001, 0))
}

func TestParseConflictPolicy(t *testing.T) {
	for _, s := range []string{"local", "remote", "newer", "ask"} {
		p, err := ParseConflictPolicy(s)
		require.NoError(t, err)
		assert.Equal(t, ConflictPolicy(s), p)
	}

	_, err := ParseConflictPolicy("merge")
	assert.Error(t, err)
}
