package helper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundToTick(t *testing.T) {
	assert.Equal(t, 0.3, RoundDownToTick(0.30000000000000004, 0.1))
	assert.Equal(t, 1.23, RoundDownToTick(1.2399, 0.01))
	assert.Equal(t, 1.24, RoundUpToTick(1.2301, 0.01))
	assert.Equal(t, 1.23, RoundUpToTick(1.23, 0.01))
	assert.Equal(t, 7.5, RoundDownToTick(7.5, 0))
	assert.Equal(t, 0.02, RoundDownToTick(0.029, 0.01))
}

func TestDigits(t *testing.T) {
	assert.Equal(t, 2, DigitsOf(0.01))
	assert.Equal(t, 5, DigitsOf(0.00001))
	assert.Equal(t, 0, DigitsOf(1))
	assert.Equal(t, 0, DigitsOf(5))
	assert.Equal(t, 1.24, RoundToDigits(1.235, 2))
	assert.Equal(t, "0.0001", FormatDecimal(0.0001))
	assert.Equal(t, "1h", NormTF("candle1H"))
}
