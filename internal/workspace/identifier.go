package workspace

import (
	"encoding/base64"
	"errors"
	"fmt"
)

var ErrInvalidIdentifier = errors.New("invalid identifier")

// Codec converts workspace root paths to identifiers handed out to callers and back.
type Codec interface {
	Encode(root string) string
	Decode(identifier string) (string, error)
}

var _ Codec = Base64Codec{}

// Base64Codec encodes the root path with URL-safe base64.
// It hides the path from casual inspection but gives no access control:
// anyone holding or guessing an identifier can use it.
type Base64Codec struct{}

func (Base64Codec) Encode(root string) string {
	return base64.URLEncoding.EncodeToString([]byte(root))
}

func (Base64Codec) Decode(identifier string) (string, error) {
	if identifier == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	b, err := base64.URLEncoding.DecodeString(identifier)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidIdentifier, err)
	}
	return string(b), nil
}
