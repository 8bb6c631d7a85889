// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
)

// userCodeAlphabet excludes the confusable characters O, 0, I, and 1.
const userCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// userCodeLength is the number of significant characters in a user code.
const userCodeLength = 8

// NewSecret returns a 32-byte URL-safe random string, used for
// authorization codes, device codes, refresh tokens, and client secrets.
func NewSecret() string {
	return RandomToken(32)
}

// RandomToken returns n random bytes base64url-encoded without padding.
func RandomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is unrecoverable for a token issuer.
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// GenerateUserCode returns an 8-character user code in XXXX-XXXX form,
// drawn from an alphabet without O/0/I/1 so it survives being read aloud.
func GenerateUserCode() string {
	buf := make([]byte, userCodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	chars := make([]byte, 0, userCodeLength+1)
	for i, b := range buf {
		if i == userCodeLength/2 {
			chars = append(chars, '-')
		}
		chars = append(chars, userCodeAlphabet[int(b)%len(userCodeAlphabet)])
	}
	return string(chars)
}

// NormalizeUserCode canonicalizes user input: case-insensitive, dashes and
// whitespace ignored.
func NormalizeUserCode(code string) string {
	code = strings.ToUpper(code)
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, code)
}
