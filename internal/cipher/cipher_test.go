// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

package cipher

import (
	"bytes"
	"crypto/aes"
	"encoding/base64"
	"errors"
	"math/rand"
	"testing"
)

// TestRoundTrip verifies decrypt(encrypt(x)) == x for representative inputs.
func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("user@example.com"),
		[]byte("exactly16bytes!!"), // full block, forces a whole padding block
		[]byte("토큰::20260830120000"),
		bytes.Repeat([]byte{0x00}, 33),
		bytes.Repeat([]byte{0xff}, 64),
	}

	for _, in := range cases {
		got, err := Decrypt(Encrypt(in))
		if err != nil {
			t.Fatalf("Decrypt(Encrypt(%q)) error: %v", in, err)
		}
		if !bytes.Equal(got, in) {
			t.Errorf("round trip mismatch: got %q, want %q", got, in)
		}
	}
}

// TestRoundTripRandom exercises the round-trip law across random lengths.
func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		in := make([]byte, rng.Intn(300))
		rng.Read(in)

		got, err := Decrypt(Encrypt(in))
		if err != nil {
			t.Fatalf("length %d: %v", len(in), err)
		}
		if !bytes.Equal(got, in) {
			t.Fatalf("length %d: round trip mismatch", len(in))
		}
	}
}

// TestEncryptBlockAligned verifies ciphertext is always a block multiple.
func TestEncryptBlockAligned(t *testing.T) {
	for n := 0; n < 48; n++ {
		raw, err := base64.StdEncoding.DecodeString(Encrypt(make([]byte, n)))
		if err != nil {
			t.Fatalf("ciphertext is not base64: %v", err)
		}
		if len(raw)%aes.BlockSize != 0 {
			t.Errorf("plaintext length %d: ciphertext length %d not block aligned", n, len(raw))
		}
	}
}

// TestEncryptDeterministic verifies the fixed key/IV produce stable output,
// which the protocol relies on for server-side decryption.
func TestEncryptDeterministic(t *testing.T) {
	a := EncryptString("hello")
	b := EncryptString("hello")
	if a != b {
		t.Errorf("Encrypt not deterministic: %q vs %q", a, b)
	}
}

func TestDecryptMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"not base64", "!!!not-base64!!!", ErrMalformedCiphertext},
		{"empty", "", ErrMalformedCiphertext},
		{"partial block", base64.StdEncoding.EncodeToString([]byte("short")), ErrMalformedCiphertext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decrypt(tt.input); !errors.Is(err, tt.want) {
				t.Errorf("Decrypt(%q) error = %v, want %v", tt.input, err, tt.want)
			}
		})
	}
}

func TestUnpadRejectsBadPadding(t *testing.T) {
	bad := [][]byte{
		append(bytes.Repeat([]byte{'x'}, 15), 0x00),       // zero padding length
		append(bytes.Repeat([]byte{'x'}, 15), 0x11),       // length > block size
		append(bytes.Repeat([]byte{'x'}, 14), 0x01, 0x02), // inconsistent padding bytes
	}
	for _, in := range bad {
		if _, err := unpad(in); !errors.Is(err, ErrMalformedPadding) {
			t.Errorf("unpad(%v) error = %v, want ErrMalformedPadding", in, err)
		}
	}
}
