package signature

import (
	"strings"
	"testing"
)

var testSecret = []byte("cacamites-test-secret")

func TestVerifyAcceptsOwnSignature(t *testing.T) {
	testCases := []struct {
		score     int64
		timestamp string
	}{
		{score: 0, timestamp: "0"},
		{score: 10, timestamp: "1700000000000"},
		{score: 999999, timestamp: "1728912345678"},
	}
	for _, testCase := range testCases {
		signed := Sign(testCase.score, testCase.timestamp, testSecret)
		if !Verify(testCase.score, testCase.timestamp, signed, testSecret) {
			t.Fatalf("expected signature for %d:%s to verify", testCase.score, testCase.timestamp)
		}
	}
}

func TestSignMatchesKnownVector(t *testing.T) {
	signed := Sign(10, "1700000000000", []byte("key"))
	if len(signed) != 64 || strings.ToLower(signed) != signed {
		t.Fatalf("expected 64 lowercase hex characters, got %q", signed)
	}
	if Message(10, "1700000000000") != "10:1700000000000" {
		t.Fatalf("unexpected canonical message %q", Message(10, "1700000000000"))
	}
}

func TestVerifyRejectsSingleBitFlips(t *testing.T) {
	const (
		score     int64 = 120
		timestamp       = "1700000000123"
	)
	signed := Sign(score, timestamp, testSecret)

	for bit := 0; bit < 63; bit++ {
		flipped := score ^ (1 << bit)
		if flipped < 0 {
			continue
		}
		if Verify(flipped, timestamp, signed, testSecret) {
			t.Fatalf("expected score bit flip %d to fail verification", bit)
		}
	}

	for index := 0; index < len(timestamp); index++ {
		for bit := 0; bit < 8; bit++ {
			mutated := []byte(timestamp)
			mutated[index] ^= 1 << bit
			if Verify(score, string(mutated), signed, testSecret) {
				t.Fatalf("expected timestamp flip at %d bit %d to fail verification", index, bit)
			}
		}
	}

	for index := 0; index < len(signed); index++ {
		for bit := 0; bit < 8; bit++ {
			mutated := []byte(signed)
			mutated[index] ^= 1 << bit
			if Verify(score, timestamp, string(mutated), testSecret) {
				t.Fatalf("expected signature flip at %d bit %d to fail verification", index, bit)
			}
		}
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	signed := Sign(5, "1700000000000", testSecret)
	testCases := []struct {
		name      string
		score     int64
		timestamp string
		signature string
		secret    []byte
	}{
		{name: "fake", score: 5, timestamp: "1700000000000", signature: "fake", secret: testSecret},
		{name: "empty-signature", score: 5, timestamp: "1700000000000", signature: "", secret: testSecret},
		{name: "uppercase-hex", score: 5, timestamp: "1700000000000", signature: strings.ToUpper(signed), secret: testSecret},
		{name: "truncated", score: 5, timestamp: "1700000000000", signature: signed[:62], secret: testSecret},
		{name: "empty-timestamp", score: 5, timestamp: "", signature: signed, secret: testSecret},
		{name: "leading-zero", score: 5, timestamp: "01700000000000", signature: Sign(5, "01700000000000", testSecret), secret: testSecret},
		{name: "whitespace", score: 5, timestamp: " 1700000000000", signature: Sign(5, " 1700000000000", testSecret), secret: testSecret},
		{name: "negative-score", score: -5, timestamp: "1700000000000", signature: Sign(-5, "1700000000000", testSecret), secret: testSecret},
		{name: "missing-secret", score: 5, timestamp: "1700000000000", signature: signed, secret: nil},
		{name: "wrong-secret", score: 5, timestamp: "1700000000000", signature: signed, secret: []byte("other")},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if Verify(testCase.score, testCase.timestamp, testCase.signature, testCase.secret) {
				t.Fatalf("expected verification to fail")
			}
		})
	}
}

func TestVerifierCopiesSecret(t *testing.T) {
	secret := []byte("mutable")
	verifier := NewVerifier(secret)
	signed := verifier.Sign(7, "1700000000000")
	secret[0] = 'X'
	if !verifier.Verify(7, "1700000000000", signed) {
		t.Fatalf("expected verifier to keep its own copy of the secret")
	}
}
