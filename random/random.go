// Package random mints short identifiers from crypto/rand.
package random

import (
	crand "crypto/rand"
	"io"
)

const charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// limit is the largest multiple of len(charset) that fits a byte. Bytes at or
// above it are discarded so every character is equally likely.
const limit = 256 - 256%len(charset)

// Token returns length alphanumeric characters.
func Token(length int) (string, error) {
	return token(crand.Reader, length)
}

func token(src io.Reader, length int) (string, error) {
	out := make([]byte, 0, length)
	buf := make([]byte, length+length/4+1)

	for len(out) < length {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, charset[int(b)%len(charset)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
