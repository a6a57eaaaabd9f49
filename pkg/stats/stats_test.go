package stats

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentIncrements(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.IncRequestsAttempted()
				s.IncCacheHits()
			}
			s.AddBytesDownloaded(10)
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, uint64(5000), snap.RequestsAttempted)
	assert.Equal(t, uint64(5000), snap.CacheHits)
	assert.Equal(t, uint64(500), snap.BytesDownloaded)
	assert.Zero(t, snap.ChallengesSolved)
}

func TestResetIsOnlyDecrease(t *testing.T) {
	s := New()
	s.IncChallengesEncountered()
	s.IncChallengesSolved()
	s.AddBytesDownloaded(-5)

	before := s.Snapshot()
	assert.Equal(t, uint64(1), before.ChallengesEncountered)
	assert.Zero(t, before.BytesDownloaded)

	s.Reset()
	assert.Equal(t, Snapshot{}, s.Snapshot())
}

func TestPrint(t *testing.T) {
	s := New()
	s.IncRequestsSucceeded()

	var buf bytes.Buffer
	s.Print(&buf)
	assert.Contains(t, buf.String(), "requests succeeded:     1")
	assert.Equal(t, 9, strings.Count(buf.String(), "\n"))
}

func TestCollector(t *testing.T) {
	s := New()
	s.IncRequestsAttempted()
	s.IncRequestsAttempted()
	s.IncChallengesSolved()

	c := NewCollector("moonfetch", s)
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP moonfetch_requests_attempted_total Logical requests started by the executor.
# TYPE moonfetch_requests_attempted_total counter
moonfetch_requests_attempted_total 2
# HELP moonfetch_challenges_solved_total Challenges answered with a clearance token.
# TYPE moonfetch_challenges_solved_total counter
moonfetch_challenges_solved_total 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"moonfetch_requests_attempted_total", "moonfetch_challenges_solved_total")
	assert.NoError(t, err)
}
