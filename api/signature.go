// File: api/signature.go
// Author: momentics <momentics@gmail.com>
//
// Minimal signature scanner. Signatures are carried as declarative metadata
// alongside argument lists; the scanner only needs to count complete type
// elements and reject malformed strings, not to marshal values.

package api

import (
	"fmt"
	"strings"
)

// Basic single-character type codes.
const basicCodes = "ybnqiuxtdsogvh"

// SignatureLen returns the number of complete types sig describes.
func SignatureLen(sig string) (int, error) {
	n := 0
	for i := 0; i < len(sig); {
		next, err := nextType(sig, i)
		if err != nil {
			return 0, err
		}
		i = next
		n++
	}
	return n, nil
}

// ValidSignature reports whether sig parses.
func ValidSignature(sig string) bool {
	_, err := SignatureLen(sig)
	return err == nil
}

// nextType consumes one complete type starting at i and returns the index
// just past it.
func nextType(sig string, i int) (int, error) {
	if i >= len(sig) {
		return 0, fmt.Errorf("signature %q: truncated", sig)
	}
	c := sig[i]
	switch {
	case strings.IndexByte(basicCodes, c) >= 0:
		return i + 1, nil
	case c == 'a':
		return nextType(sig, i+1)
	case c == '(':
		j := i + 1
		for j < len(sig) && sig[j] != ')' {
			next, err := nextType(sig, j)
			if err != nil {
				return 0, err
			}
			j = next
		}
		if j >= len(sig) {
			return 0, fmt.Errorf("signature %q: unterminated struct", sig)
		}
		if j == i+1 {
			return 0, fmt.Errorf("signature %q: empty struct", sig)
		}
		return j + 1, nil
	case c == '{':
		j, err := nextType(sig, i+1)
		if err != nil {
			return 0, err
		}
		j, err = nextType(sig, j)
		if err != nil {
			return 0, err
		}
		if j >= len(sig) || sig[j] != '}' {
			return 0, fmt.Errorf("signature %q: unterminated dict entry", sig)
		}
		return j + 1, nil
	default:
		return 0, fmt.Errorf("signature %q: unknown type code %q", sig, string(c))
	}
}
