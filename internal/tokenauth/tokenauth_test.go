package tokenauth

import (
	"testing"

	"github.com/nats-io/nkeys"
)

func TestSeedSignerSignsAndGetters(t *testing.T) {
	kp, err := nkeys.CreateUser()
	if err != nil {
		t.Fatalf("create user nkey: %v", err)
	}
	seed, err := kp.Seed()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	signer, err := NewSeedSigner(seed)
	if err != nil {
		t.Fatalf("NewSeedSigner: %v", err)
	}

	pub, err := signer.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	if pub == "" {
		t.Fatal("expected non-empty public key")
	}

	getToken := signer.TokenGetter("user-123")
	tok, err := getToken()
	if err != nil {
		t.Fatalf("TokenGetter: %v", err)
	}
	if tok == "" {
		t.Fatal("expected non-empty token")
	}

	getSubToken := signer.SubscriptionTokenGetter()
	subTok, err := getSubToken("$news")
	if err != nil {
		t.Fatalf("SubscriptionTokenGetter: %v", err)
	}
	if subTok == tok {
		t.Fatal("expected distinct signatures for distinct challenges")
	}
}
