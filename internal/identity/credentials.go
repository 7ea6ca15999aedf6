package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// derivedPasswordLength is the number of hex characters kept from the SHA-256
// digest. The authority truncates to the same length; changing it breaks
// authentication silently.
const derivedPasswordLength = 32

// CredentialKind distinguishes the two credential sets a device can hold.
type CredentialKind string

const (
	// KindBootstrap marks the fixed, pre-shared credentials used only
	// before a numeric identity has been assigned.
	KindBootstrap CredentialKind = "bootstrap"

	// KindOperational marks the per-device credentials derived from the
	// MAC and the shared salt, used after device registration.
	KindOperational CredentialKind = "operational"
)

// CredentialSet is a username/password pair together with its kind.
// Exactly one set is active on the channel session at any time.
type CredentialSet struct {
	Username string
	Password string
	Kind     CredentialKind
}

// DeriveUsername computes the operational broker username for a device:
//
//	prefix + "_" + lowercase(stripSeparators(mac))
//
// Example: prefix "esp32_dev", MAC "AA:BB:CC:DD:EE:FF" gives
// "esp32_dev_aabbccddeeff".
func DeriveUsername(mac MAC, prefix string) string {
	return prefix + "_" + mac.Normalized()
}

// DerivePassword computes the operational broker password for a device:
//
//	hex(sha256(lowercase(stripSeparators(mac)) + salt))[:32]
//
// The salt never crosses the wire. The authority re-derives the identical
// value from its own copy of the salt; the pair (normalisation, digest,
// truncation) is the load-bearing cross-system contract, so none of the
// three may change independently.
func DerivePassword(mac MAC, salt string) string {
	sum := sha256.Sum256([]byte(mac.Normalized() + salt))
	return hex.EncodeToString(sum[:])[:derivedPasswordLength]
}

// DeriveOperational builds the full operational CredentialSet for a device.
//
// Returns:
//   - CredentialSet: derived username/password with KindOperational
//   - error: ErrEmptyPrefix or ErrEmptySalt if configuration is incomplete
func DeriveOperational(mac MAC, prefix, salt string) (CredentialSet, error) {
	if prefix == "" {
		return CredentialSet{}, ErrEmptyPrefix
	}
	if salt == "" {
		return CredentialSet{}, ErrEmptySalt
	}

	return CredentialSet{
		Username: DeriveUsername(mac, prefix),
		Password: DerivePassword(mac, salt),
		Kind:     KindOperational,
	}, nil
}

// Bootstrap wraps pre-shared bootstrap credentials in a CredentialSet.
func Bootstrap(username, password string) CredentialSet {
	return CredentialSet{
		Username: username,
		Password: password,
		Kind:     KindBootstrap,
	}
}

// String renders the set for logging without exposing the password.
func (c CredentialSet) String() string {
	return fmt.Sprintf("%s(%s)", c.Kind, c.Username)
}
