package tabular

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Encoding names, in the order they are attempted.
const (
	EncodingUTF8SIG   = "utf-8-sig"
	EncodingUTF8      = "utf-8"
	EncodingLatin1    = "latin-1"
	EncodingCP1254    = "cp1254"
	EncodingISO88599  = "iso-8859-9"
	EncodingXLSX      = "xlsx"
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// DecodeOrder is the fallback chain applied to text exports.
var DecodeOrder = []string{EncodingUTF8SIG, EncodingUTF8, EncodingLatin1, EncodingCP1254, EncodingISO88599}

var charmaps = map[string]encoding.Encoding{
	EncodingLatin1:   charmap.ISO8859_1,
	EncodingCP1254:   charmap.Windows1254,
	EncodingISO88599: charmap.ISO8859_9,
}

// Decode converts raw bytes to UTF-8 text, trying each encoding in order, and reports the one used.
func Decode(data []byte, order []string) (string, string, error) {
	if len(order) == 0 {
		order = DecodeOrder
	}
	for _, name := range order {
		if text, ok := decodeAs(data, name); ok {
			return text, name, nil
		}
	}
	return "", "", fmt.Errorf("no encoding in %v could decode input", order)
}

func decodeAs(data []byte, name string) (string, bool) {
	switch name {
	case EncodingUTF8SIG:
		if !bytes.HasPrefix(data, bom) || !utf8.Valid(data[len(bom):]) {
			return "", false
		}
		return string(data[len(bom):]), true
	case EncodingUTF8:
		if !utf8.Valid(data) {
			return "", false
		}
		return string(data), true
	}
	enc, ok := charmaps[name]
	if !ok {
		return "", false
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return "", false
	}
	text := string(out)
	// Bytes a single-byte charset leaves undefined or maps to C1 controls mean the guess was wrong.
	for _, r := range text {
		if r == utf8.RuneError || (r >= 0x80 && r <= 0x9F) {
			return "", false
		}
	}
	return text, true
}
