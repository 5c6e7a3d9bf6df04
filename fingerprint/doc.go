// Package fingerprint derives a stable device identifier, a richer
// fingerprint hash, and a suspicion score from raw request signals.
//
// Everything here is a pure function of its input: identical signal bags
// always yield identical hashes, and unknown or missing signals degrade to
// lower-confidence output, never to an error. The device ID hashes a
// small ordered set of low-entropy signals; the fingerprint hash folds in
// every signal and is used for similarity scoring only — collisions
// behind shared NATs and proxies are expected and tolerated.
package fingerprint
