// internal/room/code.go
package room

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/jason-s-yu/gameroom/internal/game"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	CodeLength   = 6

	// maxCodeAttempts bounds CreateRoom's retry loop.
	maxCodeAttempts = 64
)

// GenerateCode returns a random CodeLength-character uppercase alphanumeric code.
func GenerateCode() (string, error) {
	// 252 is the largest multiple of len(codeAlphabet) below 256; bytes at or above it are
	// redrawn so every character is equally likely.
	const limit = 256 - 256%len(codeAlphabet)
	out := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(out) < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == CodeLength {
				break
			}
		}
	}
	return string(out), nil
}

// ValidCode reports whether code has the shape GenerateCode produces, ignoring case.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, c := range strings.ToUpper(code) {
		if !strings.ContainsRune(codeAlphabet, c) {
			return false
		}
	}
	return true
}

// Key builds the registry key "gameType:CODE". The code is uppercased.
func Key(kind game.Kind, code string) string {
	return string(kind) + ":" + strings.ToUpper(strings.TrimSpace(code))
}
