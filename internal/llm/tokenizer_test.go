package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokensNonEmpty(t *testing.T) {
	n := EstimateTokens("hello world, this is a short message")
	assert.Greater(t, n, 0)
}

func TestEstimateTokensScalesWithLength(t *testing.T) {
	short := EstimateTokens("hello")
	long := EstimateTokens(strings.Repeat("hello world ", 50))
	assert.Greater(t, long, short)
}

func TestEstimateTokensEmpty(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
}
