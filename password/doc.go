// Package password implements Argon2id hashing, verification, and the
// configurable password policy.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsUpgrade] reports whether a stored hash was produced with
// weaker parameters than currently configured, so the engine can re-hash
// on the next successful login.
package password
