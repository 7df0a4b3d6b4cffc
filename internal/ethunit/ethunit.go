// Package ethunit converts between human-readable ether amounts and wei.
package ethunit

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the decimal precision of ether (and of LINK).
const Decimals = 18

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Ether returns n whole ether in wei.
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), weiPerEther)
}

// FormatEther converts a wei amount to a decimal ether string.
// Trailing zeros in the fractional part are trimmed.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}

	neg := wei.Sign() < 0
	abs := new(big.Int).Abs(wei)

	whole := new(big.Int).Div(abs, weiPerEther)
	remainder := new(big.Int).Mod(abs, weiPerEther)

	out := whole.String()
	if remainder.Sign() != 0 {
		frac := fmt.Sprintf("%018s", remainder.String())
		out += "." + strings.TrimRight(frac, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}

// ParseEther converts a decimal ether string (e.g. "0.01") to wei.
// Digits beyond 18 decimals are truncated.
func ParseEther(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}

	parts := strings.Split(amount, ".")

	var whole, decimal string
	switch len(parts) {
	case 1:
		whole = parts[0]
	case 2:
		whole = parts[0]
		decimal = parts[1]
	default:
		return nil, fmt.Errorf("invalid amount format")
	}
	if whole == "" {
		whole = "0"
	}

	if strings.HasPrefix(whole, "-") {
		return nil, fmt.Errorf("negative amounts not allowed")
	}
	if !isDigits(whole) {
		return nil, fmt.Errorf("invalid whole number")
	}
	if !isDigits(decimal) {
		return nil, fmt.Errorf("invalid decimal number")
	}
	wholeBig, _ := new(big.Int).SetString(whole, 10)

	result := new(big.Int).Mul(wholeBig, weiPerEther)

	if decimal != "" {
		if len(decimal) > Decimals {
			decimal = decimal[:Decimals]
		}
		for len(decimal) < Decimals {
			decimal += "0"
		}
		decimalBig, _ := new(big.Int).SetString(decimal, 10)
		result.Add(result, decimalBig)
	}

	return result, nil
}

// ParseWeiOrEther accepts either a plain integer wei amount ("10000000000000000")
// or an ether amount with a decimal point or "eth" suffix ("0.01", "1eth").
func ParseWeiOrEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if strings.HasSuffix(s, "eth") {
		return ParseEther(strings.TrimSpace(strings.TrimSuffix(s, "eth")))
	}
	if strings.Contains(s, ".") {
		return ParseEther(s)
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amounts not allowed")
	}
	if s == "" || !isDigits(s) {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	v, _ := new(big.Int).SetString(s, 10)
	return v, nil
}

// isDigits reports whether s holds only ASCII digits. big.Int.SetString
// also accepts a sign, which amounts must not carry.
func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
