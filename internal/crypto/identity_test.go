package crypto

import (
	"strings"
	"testing"
)

func TestSignAndRecover(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	msg := []byte(`{"event_id":3,"outcome":true,"amount":50}`)
	sig, err := id.SignMessage(msg)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}

	got, err := RecoverSigner(msg, sig)
	if err != nil {
		t.Fatalf("RecoverSigner: %v", err)
	}
	if got != id.Address() {
		t.Fatalf("recovered %s, want %s", got, id.Address())
	}
}

func TestRecoverRejectsTamperedPayload(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	sig, err := id.SignMessage([]byte(`{"amount":50}`))
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}

	got, err := RecoverSigner([]byte(`{"amount":5000}`), sig)
	if err == nil && got == id.Address() {
		t.Fatal("tampered payload recovered the original signer")
	}
}

func TestRecoverBadSignature(t *testing.T) {
	if _, err := RecoverSigner([]byte("x"), "0x1234"); err == nil {
		t.Fatal("want error for short signature")
	}
	if _, err := RecoverSigner([]byte("x"), "0xzz"+strings.Repeat("00", 64)); err == nil {
		t.Fatal("want error for non-hex signature")
	}
}

func TestNewIdentityRoundTrip(t *testing.T) {
	// Well-known test vector key.
	const keyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

	id, err := NewIdentity(keyHex)
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	if !strings.HasPrefix(id.Address(), "0x") || id.Address() != strings.ToLower(id.Address()) {
		t.Fatalf("address %s is not canonical lowercase 0x form", id.Address())
	}

	same, err := NewIdentity("0x" + keyHex)
	if err != nil {
		t.Fatalf("NewIdentity with prefix: %v", err)
	}
	if same.Address() != id.Address() {
		t.Fatalf("prefix changed derived address: %s vs %s", same.Address(), id.Address())
	}
}

func TestCanonicalAddress(t *testing.T) {
	mixed := "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	want := strings.ToLower(mixed)
	if got := CanonicalAddress(mixed); got != want {
		t.Fatalf("CanonicalAddress = %s, want %s", got, want)
	}
}
