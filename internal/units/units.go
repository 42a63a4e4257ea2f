// Package units converts between wei and decimal ether strings and formats
// values for display.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	etherDecimals = 18
	gweiDecimals  = 9
)

var (
	ErrInvalidAmount = errors.New("invalid amount")

	printer     = message.NewPrinter(language.English)
)

// ParseEther parses a non-negative decimal ether amount into wei.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}

	whole, frac, dot := strings.Cut(s, ".")
	if dot && frac == "" {
		return nil, fmt.Errorf("%w: no digits after the decimal point", ErrInvalidAmount)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > etherDecimals {
		return nil, fmt.Errorf("%w: more than %d decimals", ErrInvalidAmount, etherDecimals)
	}
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	digits := whole + frac + strings.Repeat("0", etherDecimals-len(frac))
	wei, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return wei, nil
}

// FormatEther renders wei as a decimal ether string without trailing zeros.
func FormatEther(wei *big.Int) string {
	return formatUnits(wei, etherDecimals)
}

// FormatGwei renders wei in gwei, the unit gas prices are quoted in.
func FormatGwei(wei *big.Int) string {
	return formatUnits(wei, gweiDecimals)
}

func formatUnits(wei *big.Int, decimals int) string {
	if wei == nil {
		return "0"
	}
	sign := ""
	v := new(big.Int).Set(wei)
	if v.Sign() < 0 {
		sign = "-"
		v.Neg(v)
	}

	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, rem := new(big.Int).QuoRem(v, unit, new(big.Int))
	if rem.Sign() == 0 {
		return sign + whole.String()
	}
	frac := fmt.Sprintf("%0*s", decimals, rem.String())
	return sign + whole.String() + "." + strings.TrimRight(frac, "0")
}

// FormatBalance renders wei with thousands separators and at most maxDecimals
// fraction digits (truncated, not rounded).
func FormatBalance(wei *big.Int, maxDecimals int) string {
	s := FormatEther(wei)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > maxDecimals {
		frac = frac[:maxDecimals]
	}

	out := groupThousands(whole)
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// TruncateAddress shortens an address to its first n characters and last four.
func TruncateAddress(addr string, n int) string {
	if addr == "" {
		return "--------------"
	}
	if len(addr) <= n+4 {
		return addr
	}
	return addr[:n] + "..." + addr[len(addr)-4:]
}

// TruncateHash keeps n characters at each end.
func TruncateHash(hash string, n int) string {
	if hash == "" {
		return "--------------"
	}
	if len(hash) <= 2*n {
		return hash
	}
	return hash[:n] + "..." + hash[len(hash)-n:]
}

// TrimName caps a display name at n characters.
func TrimName(name string, n int) string {
	r := []rune(name)
	if len(r) > n {
		return string(r[:n]) + "..."
	}
	return name
}

func groupThousands(whole string) string {
	if v, ok := new(big.Int).SetString(whole, 10); ok && v.IsInt64() {
		return printer.Sprintf("%d", v.Int64())
	}
	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
