package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// OCC option symbol format: TICKER + YYMMDD + C|P + strike*1000 zero-padded
// to 8 digits. Example: AAPL, 2024-12-20, call, $150.00 -> AAPL241220C00150000.

const (
	occDateLayout  = "060102"
	occStrikeWidth = 8
	occSuffixLen   = len(occDateLayout) + 1 + occStrikeWidth
)

// ErrInvalidExpirationFormat is returned when an expiration date cannot be
// parsed during encoding or decoding.
var ErrInvalidExpirationFormat = errors.New("invalid expiration format")

// ErrInvalidStrike is returned when a strike price cannot be represented in
// the 8-digit OCC strike field.
var ErrInvalidStrike = errors.New("invalid strike price")

// ErrInvalidContractSymbol is returned when a contract symbol is malformed.
var ErrInvalidContractSymbol = errors.New("invalid contract symbol")

// OptionType distinguishes calls from puts.
type OptionType string

const (
	// OptionCall is a call contract
	OptionCall OptionType = "C"
	// OptionPut is a put contract
	OptionPut OptionType = "P"
)

// Contract is the decoded form of an OCC option symbol.
type Contract struct {
	Underlying string
	Expiration time.Time
	Type       OptionType
	Strike     float64
}

// EncodeContractSymbol builds the OCC symbol for an option contract.
// The strike is scaled by 1000 and must fit in 8 digits.
func EncodeContractSymbol(underlying string, expiration time.Time, optType OptionType, strike float64) (string, error) {
	if expiration.IsZero() {
		return "", fmt.Errorf("%w: zero expiration", ErrInvalidExpirationFormat)
	}
	if optType != OptionCall && optType != OptionPut {
		return "", fmt.Errorf("%w: option type must be C or P, got %q", ErrInvalidContractSymbol, optType)
	}
	scaled := math.Round(strike * 1000)
	if scaled <= 0 || scaled > 99999999 {
		return "", fmt.Errorf("%w: strike %.3f does not fit 8-digit OCC field", ErrInvalidStrike, strike)
	}
	return fmt.Sprintf("%s%s%s%08d",
		strings.ToUpper(underlying),
		expiration.Format(occDateLayout),
		optType,
		int64(scaled),
	), nil
}

// DecodeContractSymbol is the exact inverse of EncodeContractSymbol:
// DecodeContractSymbol(EncodeContractSymbol(x)) == x for all valid inputs.
func DecodeContractSymbol(symbol string) (*Contract, error) {
	if len(symbol) <= occSuffixLen {
		return nil, fmt.Errorf("%w: %q too short", ErrInvalidContractSymbol, symbol)
	}

	underlying := symbol[:len(symbol)-occSuffixLen]
	suffix := symbol[len(symbol)-occSuffixLen:]

	expiration, err := time.Parse(occDateLayout, suffix[:len(occDateLayout)])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidExpirationFormat, suffix[:len(occDateLayout)], err)
	}

	optType := OptionType(suffix[len(occDateLayout)])
	if optType != OptionCall && optType != OptionPut {
		return nil, fmt.Errorf("%w: expected C or P at type position in %q", ErrInvalidContractSymbol, symbol)
	}

	strikeDigits := suffix[len(occDateLayout)+1:]
	scaled, err := strconv.ParseInt(strikeDigits, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: strike field %q: %w", ErrInvalidStrike, strikeDigits, err)
	}
	if scaled <= 0 {
		return nil, fmt.Errorf("%w: strike field %q is zero", ErrInvalidStrike, strikeDigits)
	}

	return &Contract{
		Underlying: underlying,
		Expiration: expiration,
		Type:       optType,
		Strike:     float64(scaled) / 1000.0,
	}, nil
}

// IsContractSymbol reports whether a symbol looks like an OCC option contract
// rather than a bare equity ticker.
func IsContractSymbol(symbol string) bool {
	_, err := DecodeContractSymbol(symbol)
	return err == nil
}
