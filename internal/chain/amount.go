package chain

import (
	"fmt"
	"math/big"
	"strings"
)

// Both EnergyToken and the native currency use 18 decimals.
const Decimals = 18

var weiPerUnit = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil))

// FromWei converts a base-unit amount to a display amount. Precision above
// float64 is lost, which is acceptable for dashboard values.
func FromWei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, weiPerUnit)
	v, _ := f.Float64()
	return v
}

// ToWei converts a display amount to base units, truncating below 1 wei.
func ToWei(amount float64) *big.Int {
	f := new(big.Float).SetFloat64(amount)
	f.Mul(f, weiPerUnit)
	wei, _ := f.Int(nil)
	return wei
}

// ParseWei parses a decimal wei string (e.g. the gas reserve from config).
func ParseWei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty wei amount")
	}
	wei, ok := new(big.Int).SetString(s, 10)
	if !ok || wei.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount: %s", s)
	}
	return wei, nil
}
