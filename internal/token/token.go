// Package token implements C2: content-addressed access-token encode/decode
// and CRC computation. Tokens are opaque capabilities binding a (path, line
// range) to the CRC of that range's content at issue time.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

// tag is the fixed, stable prefix every encoded token carries. Consumers
// MUST reject any deviation (§6 "Token wire format").
const tag = "FT1"

const fieldCount = 5

// Sentinel failure modes (§4.1).
var (
	ErrMalformedToken    = errors.New("token: malformed")
	ErrWrongFile         = errors.New("token: wrong file")
	ErrRangeCrcMismatch  = errors.New("token: range crc mismatch")
	ErrLineCountMismatch = errors.New("token: line count mismatch")
)

// crcTable is the CRC32C (Castagnoli) polynomial table used for range CRCs,
// matching the wire format's requirement of a stable, well-known checksum.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Token is the decoded form of an access-token capability.
type Token struct {
	PathHash  string // hex-encoded hash of the target file path at issue time
	Start     int    // 1-based, inclusive
	End       int    // 1-based, inclusive
	RangeCRC  uint32 // CRC32C over the \n-joined raw content of [Start..End]
	LineCount int    // total line count of the file at issue time
}

// HashPath produces the stable path hash embedded in a token. It is a
// content hash, not a lookup key: two different paths never collide in
// practice, and the same path always hashes identically.
func HashPath(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])[:16]
}

// ComputeRangeCRC computes the CRC32C over the raw text of a line range
// (already \n-joined, without line numbers).
func ComputeRangeCRC(text string) uint32 {
	return crc32.Checksum([]byte(text), crcTable)
}

// Encode renders a token in the fixed, hyphen/colon-separated textual form.
func Encode(t Token) string {
	return fmt.Sprintf("%s:%s:%d:%d:%x:%d", tag, t.PathHash, t.Start, t.End, t.RangeCRC, t.LineCount)
}

// AliasResolver is consulted when a token's embedded path hash does not
// match the path it is bound to, to support path aliasing across
// move/rename (§4.1). It returns every historical path known for the file
// identity currently living at boundPath.
type AliasResolver interface {
	HistoricalPaths(boundPath string) []string
}

// Decode parses and validates the embedded path hash of an encoded token
// against boundPath. If the hash doesn't match boundPath directly, resolver
// (if non-nil) is consulted for prior paths of the file identity now at
// boundPath; the token is accepted if any historical hash matches.
func Decode(encoded, boundPath string, resolver AliasResolver) (Token, error) {
	fields := strings.Split(encoded, ":")
	if len(fields) != fieldCount+1 || fields[0] != tag {
		return Token{}, fmt.Errorf("%w: %q", ErrMalformedToken, encoded)
	}

	start, err1 := strconv.Atoi(fields[2])
	end, err2 := strconv.Atoi(fields[3])
	crcVal, err3 := strconv.ParseUint(fields[4], 16, 32)
	lineCount, err4 := strconv.Atoi(fields[5])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || start < 1 || end < start {
		return Token{}, fmt.Errorf("%w: %q", ErrMalformedToken, encoded)
	}

	tok := Token{
		PathHash:  fields[1],
		Start:     start,
		End:       end,
		RangeCRC:  uint32(crcVal),
		LineCount: lineCount,
	}

	if tok.PathHash == HashPath(boundPath) {
		return tok, nil
	}

	if resolver != nil {
		for _, prior := range resolver.HistoricalPaths(boundPath) {
			if tok.PathHash == HashPath(prior) {
				return tok, nil
			}
		}
	}

	return Token{}, fmt.Errorf("%w: token was issued for a different file than %q", ErrWrongFile, boundPath)
}

// ValidationResult is the outcome of checking a token against live content.
type ValidationResult struct {
	Valid  bool
	Reason error
}

// Validate recomputes the range CRC from currentRawText and compares it
// against the token, also checking line-count consistency (tolerating
// shifts the caller has already accounted for by passing the up-to-date
// currentLineCount).
func Validate(t Token, currentRawText string, currentLineCount int) ValidationResult {
	if ComputeRangeCRC(currentRawText) != t.RangeCRC {
		return ValidationResult{Valid: false, Reason: ErrRangeCrcMismatch}
	}
	if currentLineCount != t.LineCount {
		return ValidationResult{Valid: false, Reason: ErrLineCountMismatch}
	}
	return ValidationResult{Valid: true}
}

// Covers reports whether t's range fully contains [start, end].
func Covers(t Token, start, end int) bool {
	return t.Start <= start && end <= t.End
}
