package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTurnCost(t *testing.T) {
	pricing := ModelPricing{
		InputPerMToken:  3.0,
		OutputPerMToken: 15.0,
	}

	cases := []struct {
		name  string
		usage Usage
		want  float64
	}{
		{
			name:  "input and output only",
			usage: Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000},
			want:  3.0 + 15.0,
		},
		{
			name:  "cache read discounted to 10%",
			usage: Usage{CacheReadTokens: 1_000_000},
			want:  3.0 * 0.1,
		},
		{
			name:  "cache write premium at 125%",
			usage: Usage{CacheWriteTokens: 1_000_000},
			want:  3.0 * 1.25,
		},
		{
			name:  "thinking billed at output rate",
			usage: Usage{ThinkingTokens: 1_000_000},
			want:  15.0,
		},
		{
			name: "all components combined",
			usage: Usage{
				InputTokens:      1_000_000,
				OutputTokens:     1_000_000,
				CacheReadTokens:  1_000_000,
				CacheWriteTokens: 1_000_000,
				ThinkingTokens:   1_000_000,
			},
			want: 3.0 + 15.0 + 3.0*0.1 + 3.0*1.25 + 15.0,
		},
		{
			name:  "zero usage costs nothing",
			usage: Usage{},
			want:  0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TurnCost(tc.usage, pricing)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestErrorUnwrapAndMessage(t *testing.T) {
	inner := assertErr{"boom"}
	e := &Error{Kind: ErrTimeout, Err: inner}

	assert.Equal(t, "timeout: boom", e.Error())
	assert.Equal(t, inner, e.Unwrap())
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
