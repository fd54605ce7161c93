package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const serverTokenAccount = "server_token"

// ServerToken returns the bearer token for the local API, generating and
// storing one on first use.
func ServerToken() (string, error) {
	return serverTokenWith(keychainStore{})
}

func serverTokenWith(kc secretStore) (string, error) {
	if tok, err := kc.Get(keychainService, serverTokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, serverTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}
	return tok, nil
}
