package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignState binds an OAuth state nonce to a server-side key so the callback
// can verify the round trip without persisting anything.
func SignState(state, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(state))
	return state + "." + hex.EncodeToString(mac.Sum(nil))
}

func VerifySignedState(signed, key string) (string, bool) {
	idx := strings.LastIndexByte(signed, '.')
	if idx <= 0 {
		return "", false
	}
	state, sig := signed[:idx], signed[idx+1:]
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(state))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", false
	}
	return state, true
}

// HashRefreshToken produces the peppered digest stored in the sessions table.
// Only the digest is persisted; a database leak does not yield usable tokens.
func HashRefreshToken(token, pepper string) string {
	sum := sha256.Sum256([]byte(token + pepper))
	return hex.EncodeToString(sum[:])
}
