// Package address validates and canonicalizes EVM token addresses.
package address

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var ErrInvalidAddress = errors.New("invalid address")

// Normalize returns the EIP-55 checksummed form of raw.
func Normalize(raw string) (common.Address, error) {
	s := strings.TrimSpace(raw)
	if strings.Contains(s, "...") {
		return common.Address{}, fmt.Errorf("%w: ellipsis is not allowed, provide the full 42-char 0x address", ErrInvalidAddress)
	}
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return common.Address{}, fmt.Errorf("%w: must be 0x-prefixed and 42 characters long", ErrInvalidAddress)
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.AddressLength {
		return common.Address{}, fmt.Errorf("%w: not a valid hex string", ErrInvalidAddress)
	}
	return common.BytesToAddress(b), nil
}

// NormalizeString is Normalize returning the checksummed text form.
func NormalizeString(raw string) (string, error) {
	a, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	return a.Hex(), nil
}
