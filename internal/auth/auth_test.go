package auth

import (
	"strings"
	"testing"
)

func TestNewKey(t *testing.T) {
	k, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey failed: %v", err)
	}

	if len(k.Prefix) != 12 || !isHex(k.Prefix) {
		t.Errorf("prefix = %q, want 12 hex characters", k.Prefix)
	}
	want := "firmcheck_" + k.Prefix + "_"
	if !strings.HasPrefix(k.Display, want) {
		t.Errorf("Display %q does not start with %q", k.Display, want)
	}
	if secret := strings.TrimPrefix(k.Display, want); len(secret) != 64 {
		t.Errorf("secret length = %d, want 64", len(secret))
	}
	if len(k.Hash) != 32 {
		t.Errorf("hash length = %d, want 32", len(k.Hash))
	}

	other, _ := NewKey()
	if other.Prefix == k.Prefix || other.Display == k.Display {
		t.Error("two keys collided")
	}
}

func TestVerify(t *testing.T) {
	k, err := NewKey()
	if err != nil {
		t.Fatal(err)
	}
	if !Verify(k.Display, k.Hash) {
		t.Error("Verify rejected a freshly issued key")
	}

	tampered := k.Display[:len(k.Display)-1] + "x"
	if Verify(tampered, k.Hash) {
		t.Error("Verify accepted a tampered secret")
	}

	other, _ := NewKey()
	if Verify(other.Display, k.Hash) {
		t.Error("Verify accepted another key's secret")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantPrefix string
		wantSecret string
		wantErr    bool
	}{
		{"valid", "firmcheck_0123456789ab_secret", "0123456789ab", "secret", false},
		{"secret with underscore", "firmcheck_0123456789ab_sec_ret", "0123456789ab", "sec_ret", false},
		{"wrong scheme", "acme_0123456789ab_secret", "", "", true},
		{"short prefix", "firmcheck_0123_secret", "", "", true},
		{"non-hex prefix", "firmcheck_0123456789zz_secret", "", "", true},
		{"uppercase prefix", "firmcheck_0123456789AB_secret", "", "", true},
		{"missing secret", "firmcheck_0123456789ab_", "", "", true},
		{"no separator", "firmcheck_0123456789ab", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix, secret, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if prefix != tt.wantPrefix || secret != tt.wantSecret {
				t.Errorf("Parse(%q) = %q, %q; want %q, %q", tt.input, prefix, secret, tt.wantPrefix, tt.wantSecret)
			}
		})
	}
}
