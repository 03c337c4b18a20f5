// Package transcode converts Unicode text into the GBK encoding expected by
// the speech module.
package transcode

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// GBK encodes text as GBK. Runes GBK cannot represent are replaced by the
// encoding's substitution byte, so conversion never fails.
func GBK(text string) []byte {
	if text == "" {
		return []byte{}
	}

	// Encoders carry transform state and are not safe for concurrent use.
	encoder := encoding.ReplaceUnsupported(simplifiedchinese.GBK.NewEncoder())

	// With unsupported runes replaced, malformed input is the only error
	// source and it is substituted the same way.
	out, _ := encoder.Bytes([]byte(text))

	return out
}
