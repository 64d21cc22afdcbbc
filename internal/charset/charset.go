// Package charset detects and converts file text encodings, and decides
// when the edit engine must silently upgrade a file to UTF-8 because its
// original charset cannot represent the agent's new content.
package charset

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// UTF8 is the name reported for content already valid UTF-8.
const UTF8 = "UTF-8"

var candidates = []struct {
	name string
	enc  encoding.Encoding
}{
	{"UTF-16LE", unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)},
	{"UTF-16BE", unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)},
	{"ISO-8859-1", charmap.ISO8859_1},
	{"Windows-1252", charmap.Windows1252},
}

// Detect guesses raw's charset unless forced is non-empty, in which case
// forced is trusted as-is. Returns the decoded text and the charset name
// used.
func Detect(raw []byte, forced string) (text string, name string) {
	if forced != "" {
		return decodeNamed(raw, forced), forced
	}
	if utf8.Valid(raw) {
		return string(raw), UTF8
	}
	for _, c := range candidates {
		decoded, err := c.enc.NewDecoder().Bytes(raw)
		if err == nil && utf8.Valid(decoded) {
			return string(decoded), c.name
		}
	}
	// Nothing recognized: fall back to treating it as UTF-8 with invalid
	// sequences preserved verbatim rather than failing the read outright.
	return string(raw), UTF8
}

func decodeNamed(raw []byte, name string) string {
	for _, c := range candidates {
		if c.name == name {
			decoded, err := c.enc.NewDecoder().Bytes(raw)
			if err == nil {
				return string(decoded)
			}
			break
		}
	}
	return string(raw)
}

// Encode re-encodes text back into charsetName's byte representation. If
// the charset cannot represent text (e.g. a non-Latin-1 character written
// into an ISO-8859-1 file), ok is false and the caller must upgrade to
// UTF-8 instead of losing data.
func Encode(text, charsetName string) (out []byte, ok bool) {
	if charsetName == UTF8 || charsetName == "" {
		return []byte(text), true
	}
	for _, c := range candidates {
		if c.name != charsetName {
			continue
		}
		encoded, err := c.enc.NewEncoder().Bytes([]byte(text))
		if err != nil {
			return nil, false
		}
		return encoded, true
	}
	return []byte(text), true
}

// HasBOM reports whether raw opens with a UTF-8 byte order mark.
func HasBOM(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
}
