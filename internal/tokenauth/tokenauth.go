// Package tokenauth provides a ready-made token provider that signs
// connect/subscribe challenges with an Ed25519 NKey seed, as an
// alternative to an application's own HTTP-callback token provider. The
// server side is expected to hold the corresponding NKey public key and
// verify the signature the same way NATS servers verify nonce signatures
// during NKey-based auth — this package only implements the client half.
package tokenauth

import (
	"encoding/base64"

	"github.com/nats-io/nkeys"
)

// SeedSigner signs arbitrary challenge payloads with a user NKey seed.
type SeedSigner struct {
	kp nkeys.KeyPair
}

// NewSeedSigner parses a user NKey seed (as produced by `nk -gen user`,
// or nkeys.CreateUser().Seed()) and returns a signer built from it.
func NewSeedSigner(seed []byte) (*SeedSigner, error) {
	kp, err := nkeys.FromSeed(seed)
	if err != nil {
		return nil, err
	}
	return &SeedSigner{kp: kp}, nil
}

// PublicKey returns the NKey public key the server should have on file
// for this client.
func (s *SeedSigner) PublicKey() (string, error) {
	return s.kp.PublicKey()
}

// SignToken signs challenge (typically the connecting client's desired
// user id, or a channel name for a subscription token) and returns a
// base64url-encoded signature suitable for use as a Config.Token or
// SubscriptionTokenGetter result.
func (s *SeedSigner) SignToken(challenge string) (string, error) {
	sig, err := s.kp.Sign([]byte(challenge))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

// TokenGetter adapts SignToken to centrifuge.TokenGetter for a fixed
// challenge (typically the user id agreed out of band with the server).
func (s *SeedSigner) TokenGetter(challenge string) func() (string, error) {
	return func() (string, error) { return s.SignToken(challenge) }
}

// SubscriptionTokenGetter adapts SignToken to
// centrifuge.SubscriptionTokenGetter, signing the channel name itself as
// the challenge.
func (s *SeedSigner) SubscriptionTokenGetter() func(channel string) (string, error) {
	return func(channel string) (string, error) { return s.SignToken(channel) }
}
