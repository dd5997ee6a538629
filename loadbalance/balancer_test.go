package loadbalance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"capitalize/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	var results []string
	for i := 0; i < 4; i++ {
		inst, err := b.Pick(testInstances)
		require.NoError(t, err)
		results = append(results, inst.Addr)
	}

	require.Equal(t, []string{":8001", ":8002", ":8003", ":8001"}, results)
}

func TestEmptyInstances(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}} {
		_, err := b.Pick(nil)
		require.ErrorIs(t, err, registry.ErrNoInstances, b.Name())
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances)
		require.NoError(t, err)
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 should be picked about twice as often as :8002.
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	require.InDelta(t, 2.0, ratio, 0.5)
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	instances := []registry.ServiceInstance{{Addr: ":1"}, {Addr: ":2"}}

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		inst, err := b.Pick(instances)
		require.NoError(t, err)
		seen[inst.Addr] = true
	}
	require.Len(t, seen, 2)
}

func TestNew(t *testing.T) {
	b, err := New("")
	require.NoError(t, err)
	require.Equal(t, "RoundRobin", b.Name())

	b, err = New("weighted_random")
	require.NoError(t, err)
	require.Equal(t, "WeightedRandom", b.Name())

	_, err = New("consistent_hash")
	require.Error(t, err)
}
