package paxos

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProposalNumberOrdering(t *testing.T) {
	low := NewClientProposalNumber(1, 2)
	high := NewClientProposalNumber(2, 1)

	// Counter dominates; ProposerID only breaks ties.
	assert.True(t, high.GreaterThan(low))
	assert.False(t, low.GreaterThan(high))

	tieLow := NewClientProposalNumber(5, 1)
	tieHigh := NewClientProposalNumber(5, 2)
	assert.True(t, tieHigh.GreaterThan(tieLow))

	assert.True(t, tieLow.AtLeast(tieLow))
	assert.True(t, tieHigh.AtLeast(tieLow))
	assert.False(t, tieLow.AtLeast(tieHigh))
}

func TestProposalNumberUniquenessAcrossProposers(t *testing.T) {
	// Same counter from two proposers never yields the same number.
	a := NewClientProposalNumber(7, 1)
	b := NewClientProposalNumber(7, 2)
	assert.NotEqual(t, a, b)
	assert.True(t, b.GreaterThan(a) || a.GreaterThan(b))
}

func TestZero(t *testing.T) {
	assert.True(t, ProposalNumber{}.Zero())
	assert.False(t, NewClientProposalNumber(1, 1).Zero())
}

func TestElectionProposalDominatesEarlier(t *testing.T) {
	earlier := NewElectionProposalNumber(1_700_000_000_000, 3)
	later := NewElectionProposalNumber(1_700_000_000_001, 1)
	assert.True(t, later.GreaterThan(earlier))
}

func TestLeaderValue(t *testing.T) {
	v := LeaderValue(3)
	assert.Equal(t, Value("leader:3"), v)
	assert.True(t, v.IsElection())

	candidate, ok := v.ElectionCandidate()
	assert.True(t, ok)
	assert.Equal(t, "3", candidate)

	assert.False(t, Value("hello").IsElection())
	_, ok = Value("hello").ElectionCandidate()
	assert.False(t, ok)

	// A bare "leader:" with no candidate is not an election value.
	assert.False(t, Value("leader:").IsElection())
}
