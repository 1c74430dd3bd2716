package challenge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SingleUse(t *testing.T) {
	s := NewStore(0)

	c, err := s.Create()
	require.NoError(t, err)
	require.Len(t, c, Size)

	assert.True(t, s.VerifyAndConsume(c))
	assert.False(t, s.VerifyAndConsume(c), "a consumed challenge must not verify again")
}

func TestStore_UnknownChallenge(t *testing.T) {
	s := NewStore(0)
	assert.False(t, s.VerifyAndConsume(make([]byte, Size)))
}

func TestStore_ChallengesAreUnique(t *testing.T) {
	s := NewStore(0)

	a, err := s.Create()
	require.NoError(t, err)
	b, err := s.Create()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, s.Len())
}

func TestStore_Expiry(t *testing.T) {
	s := NewStore(time.Minute)
	current := time.Now()
	s.now = func() time.Time { return current }

	c, err := s.Create()
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	assert.False(t, s.VerifyAndConsume(c))
	assert.Equal(t, 0, s.Len(), "an expired challenge is removed on the failed consume")
}

func TestStore_Sweep(t *testing.T) {
	s := NewStore(time.Minute)
	current := time.Now()
	s.now = func() time.Time { return current }

	_, err := s.Create()
	require.NoError(t, err)
	current = current.Add(30 * time.Second)
	fresh, err := s.Create()
	require.NoError(t, err)

	current = current.Add(45 * time.Second)
	s.Sweep()

	assert.Equal(t, 1, s.Len())
	assert.True(t, s.VerifyAndConsume(fresh))
}

func TestStore_ConcurrentConsume(t *testing.T) {
	s := NewStore(0)

	c, err := s.Create()
	require.NoError(t, err)

	const workers = 32
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.VerifyAndConsume(c)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent consumer may win")
}
