package units

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/big"
	"moff.io/moff-defi/pkg/errors"
	"testing"
)

func TestFormatEther(t *testing.T) {
	wei, ok := new(big.Int).SetString("1000000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, "1.0", FormatEther(wei))
	assert.Equal(t, "0.0", FormatEther(big.NewInt(0)))
	assert.Equal(t, "0.5", FormatEther(big.NewInt(5e17)))
	assert.Equal(t, "0.000000000000000001", FormatEther(big.NewInt(1)))
	assert.Equal(t, "", FormatEther(nil))
}

func TestParseEther(t *testing.T) {
	v, err := ParseEther("0.5")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5e17), v)

	v, err = ParseEther("1.500")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())

	_, err = ParseEther("0.0000000000000000001")
	assert.True(t, errors.Is(err, ErrTooManyDecimals))

	_, err = ParseEther("ten")
	assert.True(t, errors.Is(err, ErrInvalidAmount))

	_, err = ParseEther(" ")
	assert.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestParseEtherPlainDecimalsOnly(t *testing.T) {
	for _, in := range []string{"1e3", "1E3", "+1", "0x10", "1.2.3", "-", ".", "1_000", "--1"} {
		_, err := ParseEther(in)
		assert.True(t, errors.Is(err, ErrInvalidAmount), in)
	}
	for in, want := range map[string]string{
		".5":  "500000000000000000",
		"1.":  "1000000000000000000",
		"-1":  "-1000000000000000000",
		"007": "7000000000000000000",
	} {
		v, err := ParseEther(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, v.String(), in)
	}
}

func TestParseUnitsInitialSupply(t *testing.T) {
	supply, err := ParseUnits("1000", EtherDecimals)
	require.NoError(t, err)
	want := new(big.Int).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	assert.Equal(t, 0, want.Cmp(supply))
	assert.Equal(t, "1000.0", FormatUnits(supply, EtherDecimals))
}
