package bridge

import (
	"crypto/sha256"
	"encoding/base64"
)

// HashPassword reproduces the portal's password-hashing scheme:
// base64(SHA-256(password || captcha)), UTF-8 bytes, no delimiter.
//
// The portal verifies credentials with this exact recipe. Any deviation in
// encoding, delimiter, or digest makes every login fail with a generic
// invalid-credentials response upstream, so this transform must not change.
func HashPassword(password, captcha string) string {
	sum := sha256.Sum256([]byte(password + captcha))
	return base64.StdEncoding.EncodeToString(sum[:])
}
