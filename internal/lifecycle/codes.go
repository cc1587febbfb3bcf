package lifecycle

import "crypto/rand"

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newCode returns a 6-character uppercase alphanumeric handoff code. These
// are spoken or shown at pickup/delivery; they are short on purpose and make
// no cryptographic claim.
func newCode() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}

// newCodePair returns distinct pickup and delivery codes for one match.
func newCodePair() (pickup, delivery string) {
	pickup = newCode()
	delivery = newCode()
	for delivery == pickup {
		delivery = newCode()
	}
	return pickup, delivery
}
