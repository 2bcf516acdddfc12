package store

import "testing"

func TestPairLockKey(t *testing.T) {
	// Both orderings of a pair must contend for the same advisory lock, or
	// crossed requests slip past each other.
	if pairLockKey("alice", "bob") != pairLockKey("bob", "alice") {
		t.Fatal("lock key differs between orderings of the same pair")
	}

	// Distinct pairs take distinct locks.
	if pairLockKey("alice", "bob") == pairLockKey("alice", "carol") {
		t.Fatal("distinct pairs share a lock key")
	}

	// The separator keeps concatenation ambiguity from aliasing pairs.
	if pairLockKey("ab", "c") == pairLockKey("a", "bc") {
		t.Fatal("pair boundary not separated in the hash")
	}
}
