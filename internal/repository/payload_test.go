package repository

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// richPayload holds one value of every kind the stores round-trip.
func richPayload() map[string]any {
	return map[string]any{
		"memo":   "coffee",
		"paid":   true,
		"note":   nil,
		"userId": int64(42),
		"rate":   2.5,
		"at":     "2024-01-01T03:00:00Z",
		"tags":   []any{"food", int64(1), 0.5},
		"meta":   map[string]any{"source": "telegram", "size": int64(1024), "nested": []any{map[string]any{"ok": false}}},
	}
}

func TestNormalizePayload_Conversions(t *testing.T) {
	got, err := normalizePayload(map[string]any{
		"int":      50,
		"int32":    int32(-3),
		"uint16":   uint16(7),
		"integral": 50.0,
		"float32":  float32(0.5),
		"list":     []any{1, 2.25},
		"map":      map[string]any{"n": 1},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"int":      int64(50),
		"int32":    int64(-3),
		"uint16":   int64(7),
		"integral": int64(50),
		"float32":  0.5,
		"list":     []any{int64(1), 2.25},
		"map":      map[string]any{"n": int64(1)},
	}, got)

	same, err := normalizePayload(richPayload())
	require.NoError(t, err)
	require.Equal(t, richPayload(), same)
}

func TestNormalizePayload_Rejects(t *testing.T) {
	cases := map[string]any{
		"time":     time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC),
		"nan":      math.NaN(),
		"overflow": uint64(math.MaxUint64),
		"slice":    []int{1},
		"nested":   map[string]any{"at": time.Now()},
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := normalizePayload(map[string]any{"v": v})
			require.Error(t, err)
		})
	}
}

func TestParseNumber(t *testing.T) {
	for raw, want := range map[string]any{
		"50":    int64(50),
		"-7":    int64(-7),
		"2.5":   2.5,
		"1e3":   int64(1000),
		"1e+21": 1e21,
	} {
		got, err := parseNumber(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	_, err := parseNumber("abc")
	require.Error(t, err)
}
