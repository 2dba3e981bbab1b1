// File: transport/doh/base64url.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Base64url <-> base64 conversion, kept as explicit substitution routines
// rather than encoding/base64.RawURLEncoding so the exact rejection
// rules — reject '=' or '%' in a base64url input, reject '-' or '_' in a
// base64 input — are enforced verbatim instead of relying on a decoder's
// more permissive error surface.
package doh

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyInput is returned by both conversion directions for empty
	// or nil input.
	ErrEmptyInput = errors.New("doh: empty input")
	// ErrInvalidBase64URL is returned when a base64url input contains a
	// disallowed '=' or '%' character.
	ErrInvalidBase64URL = errors.New("doh: invalid base64url input")
	// ErrInvalidBase64 is returned when a base64 input contains a
	// disallowed '-' or '_' character.
	ErrInvalidBase64 = errors.New("doh: invalid base64 input")
)

// Base64URLToBase64 converts a base64url string to standard base64,
// substituting '-'->'+' and '_'->'/' and padding with '=' to a multiple
// of 4. It rejects empty input and any '=' or '%' already present.
func Base64URLToBase64(in string) (string, int, error) {
	if len(in) == 0 {
		return "", 0, ErrEmptyInput
	}
	if strings.ContainsAny(in, "=%") {
		return "", 0, ErrInvalidBase64URL
	}
	out := strings.NewReplacer("-", "+", "_", "/").Replace(in)
	if pad := len(out) % 4; pad != 0 {
		out += strings.Repeat("=", 4-pad)
	}
	return out, len(out), nil
}

// Base64ToBase64URL converts a standard base64 string to base64url,
// substituting '+'->'-' and '/'->'_' and stripping all '=' padding. It
// rejects empty input and any '-' or '_' already present.
func Base64ToBase64URL(in string) (string, int, error) {
	if len(in) == 0 {
		return "", 0, ErrEmptyInput
	}
	if strings.ContainsAny(in, "-_") {
		return "", 0, ErrInvalidBase64
	}
	out := strings.NewReplacer("+", "-", "/", "_").Replace(in)
	out = strings.TrimRight(out, "=")
	return out, len(out), nil
}
