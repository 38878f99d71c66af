package arbitrage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kalshi_go/pkg/quant"
)

func TestTakerFeeCents(t *testing.T) {
	tests := []struct {
		price quant.Cents
		want  int
	}{
		{1, 1},
		{10, 1},
		{18, 2},
		{50, 2},
		{82, 2},
		{99, 1},
		{0, 1},   // clamped to 1
		{150, 1}, // clamped to 99
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TakerFeeCents(tt.price), "price %d", tt.price)
	}
}

func TestFees_SymmetricAndMakerFree(t *testing.T) {
	for c := quant.MinCents; c <= quant.MaxCents; c++ {
		assert.Equal(t, TakerFeeCents(c), TakerFeeCents(c.Complement()))
		assert.GreaterOrEqual(t, TakerFeeCents(c), 1)
		assert.Equal(t, 0, MakerFeeCents(c))
	}
	assert.Equal(t, "0.02", TakerFeeDollars(50).String())
}
