package strata_test

import (
	"testing"
	"time"

	"github.com/stratabase/strata"
	"github.com/stretchr/testify/assert"
)

func TestWaitPolicy(t *testing.T) {
	t.Run("blocking waits without bound", func(t *testing.T) {
		policy := strata.Blocking()
		assert.True(t, policy.Wait)
		assert.False(t, policy.HasTimeout)
		assert.False(t, policy.Bounded())
	})
	t.Run("blocking for waits with a bound", func(t *testing.T) {
		policy := strata.BlockingFor(5 * time.Second)
		assert.True(t, policy.Wait)
		assert.True(t, policy.HasTimeout)
		assert.Equal(t, 5*time.Second, policy.Timeout)
		assert.True(t, policy.Bounded())
	})
	t.Run("an explicit zero bound still counts", func(t *testing.T) {
		policy := strata.BlockingFor(0)
		assert.True(t, policy.Bounded())
		assert.Zero(t, policy.Timeout)
	})
	t.Run("background never waits", func(t *testing.T) {
		policy := strata.Background()
		assert.False(t, policy.Wait)
		assert.False(t, policy.Bounded())
	})
}
