// Package internal holds identifier generation, token codecs, and hashing
// helpers shared by the engine and its stores.
package internal
