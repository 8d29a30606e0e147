package util

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// WebhookSecret derives the unguessable path segment Telegram posts updates
// to. It is stable for a given bot token.
func WebhookSecret(token string) string {
	r := hkdf.New(sha256.New, []byte(token), nil, []byte("telegram-webhook-path"))
	out := make([]byte, 24)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(err)
	}
	return hex.EncodeToString(out)
}
