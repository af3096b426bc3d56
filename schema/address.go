package schema

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress validates a 20-byte hex address and returns its lower-case form.
// Every map and table in trustcoin is keyed by this form.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}

// NormalizeAddresses canonicalizes and deduplicates addrs, keeping first-seen order.
// Invalid entries are returned separately.
func NormalizeAddresses(addrs []string) (res []string, invalid []string) {
	seen := make(map[string]struct{}, len(addrs))
	res = make([]string, 0, len(addrs))
	for _, a := range addrs {
		n, err := NormalizeAddress(a)
		if err != nil {
			invalid = append(invalid, a)
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		res = append(res, n)
	}
	return
}
