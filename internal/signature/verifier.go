// Package signature authenticates score claims with an HMAC-SHA256 over "score:timestamp".
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Verifier binds the process-wide submission secret.
type Verifier struct {
	secret []byte
}

// NewVerifier copies the secret so later mutation by the caller has no effect.
func NewVerifier(secret []byte) Verifier {
	return Verifier{secret: append([]byte(nil), secret...)}
}

// Verify reports whether providedSignature authenticates the claim under the bound secret.
func (v Verifier) Verify(score int64, timestampMillis, providedSignature string) bool {
	return Verify(score, timestampMillis, providedSignature, v.secret)
}

// Sign returns the lowercase hex signature for the claim under the bound secret.
func (v Verifier) Sign(score int64, timestampMillis string) string {
	return Sign(score, timestampMillis, v.secret)
}

// Verify reports whether providedSignature is the lowercase hex HMAC-SHA256 of
// "{score}:{timestampMillis}" under secret. Malformed or missing input yields false.
func Verify(score int64, timestampMillis, providedSignature string, secret []byte) bool {
	if len(secret) == 0 || score < 0 || !canonicalTimestamp(timestampMillis) {
		return false
	}
	if len(providedSignature) != hex.EncodedLen(sha256.Size) || !lowercaseHex(providedSignature) {
		return false
	}
	provided, err := hex.DecodeString(providedSignature)
	if err != nil {
		return false
	}
	return hmac.Equal(mac(score, timestampMillis, secret), provided)
}

// Sign computes the signature a client must send for the claim.
func Sign(score int64, timestampMillis string, secret []byte) string {
	return hex.EncodeToString(mac(score, timestampMillis, secret))
}

func mac(score int64, timestampMillis string, secret []byte) []byte {
	hasher := hmac.New(sha256.New, secret)
	hasher.Write([]byte(Message(score, timestampMillis)))
	return hasher.Sum(nil)
}

// Message is the canonical signed payload.
func Message(score int64, timestampMillis string) string {
	return strconv.FormatInt(score, 10) + ":" + timestampMillis
}

// canonicalTimestamp accepts plain decimal digits without sign, whitespace or leading zeros.
func canonicalTimestamp(value string) bool {
	if value == "" {
		return false
	}
	if len(value) > 1 && value[0] == '0' {
		return false
	}
	for index := 0; index < len(value); index++ {
		if value[index] < '0' || value[index] > '9' {
			return false
		}
	}
	return true
}

func lowercaseHex(value string) bool {
	for index := 0; index < len(value); index++ {
		character := value[index]
		if (character < '0' || character > '9') && (character < 'a' || character > 'f') {
			return false
		}
	}
	return true
}
