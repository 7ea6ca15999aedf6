package identity

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// macPattern matches a MAC address after separator stripping: 12 hex digits.
var macPattern = regexp.MustCompile(`^[0-9a-fA-F]{12}$`)

// MAC is a 6-byte hardware address in canonical colon-hex form,
// e.g. "AA:BB:CC:DD:EE:FF". Construct via ParseMAC or FromHardware;
// the zero value is not a valid address.
type MAC string

// ParseMAC normalises a MAC address string into canonical form.
//
// Accepted input forms:
//   - colon-separated:  "aa:bb:cc:dd:ee:ff"
//   - dash-separated:   "AA-BB-CC-DD-EE-FF"
//   - bare hex:         "aabbccddeeff"
//
// Returns:
//   - MAC: canonical upper-case colon-hex form
//   - error: ErrInvalidMAC if the input is not a 6-byte address
func ParseMAC(s string) (MAC, error) {
	stripped := stripSeparators(s)
	if !macPattern.MatchString(stripped) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, s)
	}

	upper := strings.ToUpper(stripped)
	parts := make([]string, 0, 6)
	for i := 0; i < len(upper); i += 2 {
		parts = append(parts, upper[i:i+2])
	}
	return MAC(strings.Join(parts, ":")), nil
}

// FromHardware resolves the device MAC from the first non-loopback network
// interface carrying a 6-byte hardware address. The result is stable for the
// lifetime of the process on real hardware; deployments that need a pinned
// identity should set device.mac in config instead.
func FromHardware() (MAC, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("listing network interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) != 6 {
			continue
		}
		return ParseMAC(iface.HardwareAddr.String())
	}

	return "", ErrNoHardwareMAC
}

// String returns the canonical colon-hex form.
func (m MAC) String() string {
	return string(m)
}

// Normalized returns the lower-case, separator-free form used in credential
// derivation and addressed topic paths, e.g. "aabbccddeeff".
//
// The authority computes the same normalisation independently; the two sides
// must agree byte-for-byte or derived credentials will not match.
func (m MAC) Normalized() string {
	return strings.ToLower(stripSeparators(string(m)))
}

// stripSeparators removes the ":" and "-" separator characters.
func stripSeparators(s string) string {
	s = strings.ReplaceAll(s, ":", "")
	return strings.ReplaceAll(s, "-", "")
}
