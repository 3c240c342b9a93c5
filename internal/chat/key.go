// Package chat implements conversation addressing and the per-partition
// message stream: ordered, deduplicated snapshots built from the store's
// change feed, plus the write path both plain messages and negotiation
// artifacts go through.
package chat

import (
	"errors"
	"strings"
)

// ErrEmptyIdentity is returned when a conversation key is derived from
// a blank identity.
var ErrEmptyIdentity = errors.New("chat: empty identity")

const keySeparator = "_"

var identityReplacer = strings.NewReplacer(
	".", "_",
	"#", "_",
	"$", "_",
	"[", "_",
	"]", "_",
	"/", "_",
	"@", "_",
)

// NormalizeIdentity replaces characters that are illegal in store keys.
// "a@x.com" becomes "a_x_com".
func NormalizeIdentity(identity string) string {
	return identityReplacer.Replace(identity)
}

// DeriveKey produces the canonical partition key for two parties.
// Symmetric: DeriveKey(a, b) == DeriveKey(b, a).
func DeriveKey(identityA, identityB string) (string, error) {
	if identityA == "" || identityB == "" {
		return "", ErrEmptyIdentity
	}
	a := NormalizeIdentity(identityA)
	b := NormalizeIdentity(identityB)
	if a > b {
		a, b = b, a
	}
	return a + keySeparator + b, nil
}

// DeriveProductKey scopes a two-party key by product, so the same pair
// negotiating two products gets two distinct partitions.
func DeriveProductKey(identityA, identityB, productID string) (string, error) {
	if productID == "" {
		return "", errors.New("chat: empty product id")
	}
	key, err := DeriveKey(identityA, identityB)
	if err != nil {
		return "", err
	}
	return key + keySeparator + NormalizeIdentity(productID), nil
}

// KeyContains reports whether a partition key involves the given
// identity. The normalized identity must match a full separator-aligned
// segment run of the key, so one identity being a substring of another
// (a@x.com inside aa@x.com) does not match. An identity whose
// normalized form coincides with the tail of another one still
// collides; normalization folds the separator into identities, so the
// key alone cannot tell those apart.
func KeyContains(partitionKey, identity string) bool {
	if identity == "" {
		return false
	}
	id := NormalizeIdentity(identity)
	if partitionKey == id ||
		strings.HasPrefix(partitionKey, id+keySeparator) ||
		strings.HasSuffix(partitionKey, keySeparator+id) {
		return true
	}
	return strings.Contains(partitionKey, keySeparator+id+keySeparator)
}
