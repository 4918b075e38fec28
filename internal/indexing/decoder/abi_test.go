package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The indexed flags decide which fields are read from topics and which from
// data. Keep this in step with the deployed contract's ABI.
func TestEmbeddedABIIndexedLayout(t *testing.T) {
	r := MustNew()

	tests := []struct {
		event   string
		indexed []string
		data    []string
	}{
		{
			event:   EventMarketCreated,
			indexed: []string{"marketId", "creator"},
			data:    []string{"tweetId", "metric", "targetValue", "category"},
		},
		{
			event:   EventSharesPurchased,
			indexed: []string{"marketId", "buyer"},
			data:    []string{"isYes", "usdcAmount", "sharesReceived", "newPrice"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			ev, ok := r.abi.Events[tt.event]
			require.True(t, ok)

			var indexed, data []string
			for _, in := range ev.Inputs {
				if in.Indexed {
					indexed = append(indexed, in.Name)
				} else {
					data = append(data, in.Name)
				}
			}
			assert.Equal(t, tt.indexed, indexed)
			assert.Equal(t, tt.data, data)
		})
	}
}
