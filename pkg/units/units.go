// Package units converts between human readable amounts and base units.
package units

import (
	"github.com/shopspring/decimal"
	"math/big"
	"moff.io/moff-defi/pkg/errors"
	"regexp"
	"strings"
)

// EtherDecimals is the number of decimals of the native currency and of the Token contract.
const EtherDecimals = 18

// plain decimals only, exponents and a leading "+" are rejected like ethers does
var amountPattern = regexp.MustCompile(`^-?(\d+\.?\d*|\.\d+)$`)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrTooManyDecimals  = errors.New("fractional component exceeds decimals")
	ErrNegativeDecimals = errors.New("negative decimals")
)

// ParseUnits converts "1.5" with 18 decimals into 1500000000000000000.
func ParseUnits(value string, decimals int32) (*big.Int, error) {
	if decimals < 0 {
		return nil, ErrNegativeDecimals
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.Wrap(ErrInvalidAmount, "empty value")
	}
	if !amountPattern.MatchString(value) {
		return nil, errors.Wrapf(ErrInvalidAmount, "%q", value)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidAmount, "%q", value)
	}
	if d.Exponent() < -decimals {
		// trailing zeros are fine: "1.500" has the same value as "1.5"
		if !d.Equal(d.Truncate(decimals)) {
			return nil, errors.Wrapf(ErrTooManyDecimals, "%q", value)
		}
	}
	return d.Shift(decimals).BigInt(), nil
}

// FormatUnits renders v with decimals, always keeping one fractional digit: 10^18 wei with
// 18 decimals is "1.0".
func FormatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return ""
	}
	s := decimal.NewFromBigInt(v, -decimals).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func ParseEther(value string) (*big.Int, error) {
	return ParseUnits(value, EtherDecimals)
}

func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, EtherDecimals)
}
