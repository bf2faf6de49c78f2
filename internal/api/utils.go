package api

import (
	"encoding/base64"
	"fmt"
	"io"
)

const stateLength = 32

// randomState returns a URL-safe token of the given length for the OAuth
// state parameter.
func randomState(r io.Reader, length int) (string, error) {
	b := make([]byte, (length*3+3)/4)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length], nil
}
