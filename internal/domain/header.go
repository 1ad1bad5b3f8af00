// Package domain header.go contains the parsed increment header pair
package domain

// HeaderPair holds the two tokens extracted from the first two lines of an
// increment file, in file order: Current is the position the file advances
// the chain to, Previous is the position it expects the chain to be at.
// A pair is consumed by the matching decision and discarded; nothing retains
// it afterwards.
type HeaderPair struct {
	Current  Token
	Previous Token
}
