// Package chain encapsulates every interaction with the blockchain: RPC
// calls, local transaction signing, and the upstream public faucet. The
// rest of the service treats it as a black box that validates addresses,
// reports balances, and dispatches transfers.
package chain

import "strings"

const addressHexLen = 64

// ValidAddress reports whether input is a well-formed address: an optional
// 0x prefix followed by exactly 64 hex digits, case-insensitive.
func ValidAddress(input string) bool {
	h := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(input)), "0x")
	if len(h) != addressHexLen {
		return false
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// NormalizeAddress returns the canonical lowercase 0x-prefixed form, or ""
// if the input is not a valid address. Normalizing an already-normalized
// address is a no-op.
func NormalizeAddress(input string) string {
	if !ValidAddress(input) {
		return ""
	}
	h := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(input)), "0x")
	return "0x" + h
}
