package retry

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// IdempotencyToken derives a stable per-(user, job) token from secret, the
// same HMAC-SHA256 technique the teacher uses to hash refresh tokens,
// repurposed here so repeated submit attempts carry an identical client
// token and the portal can dedupe them.
func IdempotencyToken(secret []byte, userID, jobID string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(jobID))
	return hex.EncodeToString(h.Sum(nil))
}
