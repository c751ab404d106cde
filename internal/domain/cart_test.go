package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCartLines(t *testing.T) {
	t.Run("json text", func(t *testing.T) {
		lines, err := DecodeCartLines(`[{"productId":1,"quantity":2,"color":"Red"}]`)
		require.NoError(t, err)
		require.Len(t, lines, 1)
		id, ok := lines[0].ProductID()
		assert.True(t, ok)
		assert.Equal(t, int64(1), id)
		assert.Equal(t, "Red", lines[0].Color())
	})

	t.Run("double encoded text", func(t *testing.T) {
		lines, err := DecodeCartLines(json.RawMessage(`"[{\"productId\":7,\"quantity\":1}]"`))
		require.NoError(t, err)
		require.Len(t, lines, 1)
		id, _ := lines[0].ProductID()
		assert.Equal(t, int64(7), id)
	})

	t.Run("structured list keeps junk as placeholders", func(t *testing.T) {
		lines, err := DecodeCartLines([]any{map[string]any{"productId": int64(3)}, "garbage"})
		require.NoError(t, err)
		require.Len(t, lines, 2)
		_, ok := lines[1].ProductID()
		assert.False(t, ok)
	})

	t.Run("empty and null", func(t *testing.T) {
		lines, err := DecodeCartLines("  ")
		require.NoError(t, err)
		assert.Empty(t, lines)
		lines, err = DecodeCartLines([]byte("null"))
		require.NoError(t, err)
		assert.Empty(t, lines)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := DecodeCartLines("{not json")
		assert.ErrorIs(t, err, ErrMalformedCartItems)
		_, err = DecodeCartLines(42)
		assert.ErrorIs(t, err, ErrMalformedCartItems)
	})
}

func TestCartLineProductID(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int64
		ok    bool
	}{
		{name: "float", value: float64(5), want: 5, ok: true},
		{name: "numeric string", value: " 12 ", want: 12, ok: true},
		{name: "missing", value: nil},
		{name: "null string", value: "null"},
		{name: "undefined string", value: "undefined"},
		{name: "non numeric", value: "abc"},
		{name: "fractional", value: 1.5},
		{name: "zero", value: 0},
		{name: "bool", value: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := CartLine{CartLineProductID: tc.value}.ProductID()
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNewCartLineRoundTripsThroughJSON(t *testing.T) {
	line := NewCartLine(9, 2, " Blue ", 1500, "")
	data, err := json.Marshal([]CartLine{line})
	require.NoError(t, err)

	lines, err := DecodeCartLines(data)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	qty, ok := lines[0].Quantity()
	assert.True(t, ok)
	assert.Equal(t, 2, qty)
	assert.Equal(t, "Blue", lines[0].Color())
	assert.Equal(t, int64(1500), lines[0].Price())
	assert.Empty(t, lines[0].Image())
}
