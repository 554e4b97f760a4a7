package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Price is a scaled integer. The scale is defined per symbol by configuration.
type Price int64

func (p Price) AppendString(priceScale int, buf []byte) []byte {
	return appendScaledInt(buf, int64(p), priceScale)
}

func (p Price) String(priceScale int) string {
	return string(p.AppendString(priceScale, nil))
}

// Quantity is a scaled integer. The scale is defined per symbol by configuration.
type Quantity int64

func (q Quantity) AppendString(quantityScale int, buf []byte) []byte {
	return appendScaledInt(buf, int64(q), quantityScale)
}

func (q Quantity) String(quantityScale int) string {
	return string(q.AppendString(quantityScale, nil))
}

func appendScaledInt(buf []byte, value int64, scale int) []byte {
	if scale <= 0 {
		return strconv.AppendInt(buf, value, 10)
	}

	neg := value < 0
	u := uint64(value)
	if neg {
		u = uint64(^value) + 1
	}

	var tmp [32]byte
	digits := strconv.AppendUint(tmp[:0], u, 10)

	if neg {
		buf = append(buf, '-')
	}

	if len(digits) <= scale {
		buf = append(buf, '0', '.')
		for i := 0; i < scale-len(digits); i++ {
			buf = append(buf, '0')
		}
		buf = append(buf, digits...)
		return buf
	}

	idx := len(digits) - scale
	buf = append(buf, digits[:idx]...)
	buf = append(buf, '.')
	buf = append(buf, digits[idx:]...)
	return buf
}

// ParsePrice parses a decimal string into a scaled Price.
func ParsePrice(s string, priceScale int) (Price, error) {
	v, err := parseScaledInt(s, priceScale)
	return Price(v), err
}

// ParseQuantity parses a decimal string into a scaled Quantity.
func ParseQuantity(s string, quantityScale int) (Quantity, error) {
	v, err := parseScaledInt(s, quantityScale)
	return Quantity(v), err
}

func parseScaledInt(s string, scale int) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty decimal string")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	if len(fracPart) > scale {
		// Excess precision is truncated, not rounded.
		fracPart = fracPart[:scale]
	}
	for len(fracPart) < scale {
		fracPart += "0"
	}
	if intPart == "" {
		intPart = "0"
	}

	v, err := strconv.ParseInt(intPart+fracPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	if neg {
		v = -v
	}
	return v, nil
}
