// Package pairing derives the canonical pair key and manages the pair
// lifecycle. The key is a pure function of the two member IDs, so either
// member computes the identical key without coordination and both sides
// subscribe to the same channels before the pair record even exists.
package pairing

// Key returns the canonical pair key for two user IDs: the lexicographically
// smaller ID, an underscore, then the larger. Key(a, b) == Key(b, a).
func Key(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + "_" + userB
}

// Resolve returns the stored pair key when one exists (authoritative once a
// pair record has been created), otherwise the derived key.
func Resolve(userA, userB, storedKey string) string {
	if storedKey != "" {
		return storedKey
	}
	return Key(userA, userB)
}
