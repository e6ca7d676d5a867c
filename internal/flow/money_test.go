package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, 10.33, Truncate(10.339))
	assert.Equal(t, 10.33, Truncate(10.33))
	assert.Equal(t, 0.0, Truncate(0.004))
}

func TestEqualShare(t *testing.T) {
	// 100 / 3 truncates down. The 1 cent remainder stays unbilled.
	assert.Equal(t, 33.33, EqualShare(100, 3))
	assert.Equal(t, 50.0, EqualShare(100, 2))
	assert.Equal(t, 0.0, EqualShare(100, 0))
	assert.Equal(t, 0.0, EqualShare(100, -2))
}

func TestTipAmount(t *testing.T) {
	assert.Equal(t, 3.0, TipAmount(100, 3))
	// 7% of 33.33 = 2.3331, truncated.
	assert.Equal(t, 2.33, TipAmount(33.33, 7))
	assert.Equal(t, 0.0, TipAmount(100, 0))
	assert.Equal(t, 0.0, TipAmount(100, -5))
}

func TestParseTip(t *testing.T) {
	tests := []struct {
		in      string
		percent float64
		ok      bool
	}{
		{"5", 5, true},
		{"5%", 5, true},
		{" 7 % ", 7, true},
		{"2,5", 2.5, true},
		{"2.5%", 2.5, true},
		{"0", 0, true},
		{"sem gorjeta", 0, true},
		{"não", 0, true},
		{"101", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		p, ok := ParseTip(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.percent, p, tt.in)
	}
}

func TestIsValidDocument(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"529.982.247-25", true},  // valid CPF
		{"52998224725", true},
		{"529.982.247-24", false}, // wrong check digit
		{"111.111.111-11", false}, // repeated digits
		{"11.222.333/0001-81", true}, // valid CNPJ
		{"11222333000181", true},
		{"11222333000180", false},
		{"123", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, IsValidDocument(tt.in), tt.in)
	}
}
