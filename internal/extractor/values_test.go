package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueKeyNormalizesNumericTypes(t *testing.T) {
	// Seed values decoded from YAML arrive as int; drivers hand back
	// int64. Both must dedupe onto the same key.
	assert.Equal(t, valueKey([]any{1}), valueKey([]any{int64(1)}))
	assert.Equal(t, valueKey([]any{int64(2)}), valueKey([]any{2.0}))
	assert.NotEqual(t, valueKey([]any{1}), valueKey([]any{"1"}))
	assert.NotEqual(t, valueKey([]any{nil}), valueKey([]any{0}))
}

func TestValueKeyTuples(t *testing.T) {
	assert.Equal(t, valueKey([]any{1, "a"}), valueKey([]any{int64(1), "a"}))
	assert.NotEqual(t, valueKey([]any{1, "a"}), valueKey([]any{1, "b"}))
	assert.NotEqual(t, valueKey([]any{1, nil}), valueKey([]any{1}))
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want int
	}{
		{"nulls sort first", nil, 0, -1},
		{"equal nulls", nil, nil, 0},
		{"numbers by value", int64(1), int64(2), -1},
		{"mixed numeric widths", 2, int64(1), 1},
		{"strings lexically", "a", "b", -1},
		{"numbers before strings", int64(9), "1", -1},
		{"equal strings", "x", "x", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompareValues(tt.a, tt.b)
			switch {
			case tt.want < 0:
				assert.Negative(t, got)
			case tt.want > 0:
				assert.Positive(t, got)
			default:
				assert.Zero(t, got)
			}
		})
	}
}

func TestCompareRows(t *testing.T) {
	assert.Negative(t, CompareRows([]any{1, "a"}, []any{1, "b"}))
	assert.Zero(t, CompareRows([]any{1, "a"}, []any{int64(1), "a"}))
	assert.Positive(t, CompareRows([]any{2}, []any{1}))
}
