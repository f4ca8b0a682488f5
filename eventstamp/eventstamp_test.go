package eventstamp_test

import (
	"testing"

	"github.com/byearlybird/starling/eventstamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	es := eventstamp.Encode(1_700_000_000_123, 0x2a, "0001")
	instantMs, counter, nonce, err := eventstamp.Decode(es)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_123), instantMs)
	assert.Equal(t, uint32(0x2a), counter)
	assert.Equal(t, "0001", nonce)
}

func TestIsValid(t *testing.T) {
	cases := []struct {
		name string
		in   eventstamp.Eventstamp
		want bool
	}{
		{"well formed", eventstamp.Encode(0, 0, "0000"), true},
		{"min", eventstamp.Min(), true},
		{"missing fields", eventstamp.Eventstamp("garbage"), false},
		{"bad nonce width", eventstamp.Eventstamp("1970-01-01T00:00:00.000Z|0000|00"), false},
		{"uppercase hex rejected", eventstamp.Eventstamp("1970-01-01T00:00:00.000Z|0000|ABCD"), false},
		{"bad instant", eventstamp.Eventstamp("not-a-time|0000|0000"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, eventstamp.IsValid(tc.in))
		})
	}
}

func TestCompareIsByteWiseAndMatchesTupleOrder(t *testing.T) {
	a := eventstamp.Encode(1000, 1, "0000")
	b := eventstamp.Encode(1000, 2, "0000")
	c := eventstamp.Encode(2000, 0, "0000")

	assert.Negative(t, eventstamp.Compare(a, b))
	assert.Negative(t, eventstamp.Compare(b, c))
	assert.Zero(t, eventstamp.Compare(a, a))
	assert.Positive(t, eventstamp.Compare(c, a))
}

func TestMaxTreatsEmptyAsLeast(t *testing.T) {
	a := eventstamp.Encode(1000, 0, "0000")
	assert.Equal(t, a, eventstamp.Max(a, ""))
	assert.Equal(t, a, eventstamp.Max("", a))
	assert.Equal(t, eventstamp.Eventstamp(""), eventstamp.Max("", ""))
}

func TestMinIsLessThanAnyGeneratedStamp(t *testing.T) {
	s := eventstamp.Encode(1, 0, "0000")
	assert.Negative(t, eventstamp.Compare(eventstamp.Min(), s))
}
