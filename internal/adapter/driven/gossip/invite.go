package gossip

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// GenerateInviteToken returns a shareable token binding sessionID to secret.
// The token is base58(sessionID || HMAC-SHA256(secret, sessionID)).
func GenerateInviteToken(sessionID string, secret []byte) string {
	raw := make([]byte, 0, len(sessionID)+sha256.Size)
	raw = append(raw, sessionID...)
	raw = append(raw, sign(sessionID, secret)...)
	return base58.Encode(raw)
}

// ParseInviteToken recovers the session ID from a token produced by
// GenerateInviteToken with the same secret. ok is false for tokens that do
// not decode, are too short, carry an empty session ID, or fail verification.
func ParseInviteToken(token string, secret []byte) (sessionID string, ok bool) {
	raw, err := base58.Decode(token)
	if err != nil || len(raw) <= sha256.Size {
		return "", false
	}

	split := len(raw) - sha256.Size
	sid, mac := string(raw[:split]), raw[split:]

	if !hmac.Equal(mac, sign(sid, secret)) {
		return "", false
	}

	return sid, true
}

func sign(sessionID string, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(sessionID))
	return h.Sum(nil)
}
