// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

// Package cipher implements the vendor's symmetric credential cipher:
// AES-CBC with PKCS#7 padding and a base64 wire form. The key and IV are
// fixed constants of the e-Life protocol shared by every client build; they
// obfuscate credentials in transit and derive the rotating bearer value,
// they are not end-user secrets.
package cipher

import (
	"bytes"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
)

// Pre-shared protocol constants. AES-256 key and CBC initialization vector
// baked into the vendor's mobile client.
var (
	vendorKey = []byte("daelim-elife-apt-cloud-aes-key-1")
	vendorIV  = []byte("daelim-elife-iv0")
)

var (
	// ErrMalformedCiphertext is returned when the base64 payload does not
	// decode to a whole number of cipher blocks.
	ErrMalformedCiphertext = errors.New("cipher: malformed ciphertext")

	// ErrMalformedPadding is returned when the decrypted plaintext does not
	// end in valid PKCS#7 padding. A conforming peer never produces this.
	ErrMalformedPadding = errors.New("cipher: malformed padding")
)

// Encrypt pads plaintext to the AES block size, encrypts it with the fixed
// protocol key/IV, and returns the base64-encoded ciphertext.
func Encrypt(plaintext []byte) string {
	block, err := aes.NewCipher(vendorKey)
	if err != nil {
		// Key length is a compile-time constant; this cannot fail.
		panic(err)
	}

	padded := pad(plaintext)
	out := make([]byte, len(padded))
	stdcipher.NewCBCEncrypter(block, vendorIV).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out)
}

// EncryptString is Encrypt for string plaintext.
func EncryptString(plaintext string) string {
	return Encrypt([]byte(plaintext))
}

// Decrypt reverses Encrypt: base64-decode, AES-CBC decrypt, strip PKCS#7
// padding. Returns ErrMalformedCiphertext or ErrMalformedPadding on input
// that was not produced by a conforming peer.
func Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d", ErrMalformedCiphertext, len(raw))
	}

	block, err := aes.NewCipher(vendorKey)
	if err != nil {
		panic(err)
	}

	plain := make([]byte, len(raw))
	stdcipher.NewCBCDecrypter(block, vendorIV).CryptBlocks(plain, raw)
	return unpad(plain)
}

// pad appends PKCS#7 padding: n bytes of value n, where n brings the length
// to the next block multiple. Plaintext already at a block boundary gains a
// full block of padding so unpad is unambiguous.
func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad reads the final byte as the padding length and trims that many
// bytes, verifying every padding byte carries the padding-length value.
func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrMalformedPadding
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrMalformedPadding
		}
	}
	return b[:len(b)-n], nil
}
