package settlement

import "strings"

// addressPrefixes are the network's known address encodings: bounceable,
// non-bounceable, testnet, and the raw workchain form.
var addressPrefixes = []string{"EQ", "UQ", "kQ", "0:"}

// ValidAddress reports whether an address is present and syntactically
// plausible for the settlement network. It is a cheap prefix check, not a
// full checksum validation; the network itself rejects garbage addresses.
func ValidAddress(address string) bool {
	if address == "" {
		return false
	}
	for _, prefix := range addressPrefixes {
		if strings.HasPrefix(address, prefix) {
			return true
		}
	}
	return false
}
