// Package domain token.go contains the chain token type and helpers
package domain

// Token is the opaque identifier that links increment files into a chain. In
// this domain it is a timestamp such as "20160129_192339", but the chain
// algorithm only ever compares tokens for exact equality. The zero value
// means "no token", i.e. no baseline has been recorded yet.
type Token string

// None is the absent token.
const None Token = ""

// String returns the string form of the Token.
func (t Token) String() string { return string(t) }

// IsZero reports whether the token is absent.
func (t Token) IsZero() bool { return t == None }

// TimestampShaped reports whether the token has the conventional
// YYYYMMDD_HHMMSS shape. Chain validation never requires this; it exists so
// callers can warn about suspicious tokens without rejecting them.
func (t Token) TimestampShaped() bool {
	if len(t) != 15 || t[8] != '_' {
		return false
	}
	for i := 0; i < len(t); i++ {
		if i == 8 {
			continue
		}
		if t[i] < '0' || t[i] > '9' {
			return false
		}
	}
	return true
}
