package sshutil

import (
	"crypto"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// GetFingerprint calculates the SHA256 fingerprint of an SSH public key
// given in authorized_keys format
func GetFingerprint(pubkeyStr string) (string, error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubkeyStr))
	if err != nil {
		return "", fmt.Errorf("failed to parse public key: %w", err)
	}
	return fingerprint(pubkey), nil
}

// FingerprintKey calculates the SHA256 fingerprint of a raw public key,
// such as an ed25519.PublicKey
func FingerprintKey(key crypto.PublicKey) (string, error) {
	pubkey, err := ssh.NewPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to convert public key: %w", err)
	}
	return fingerprint(pubkey), nil
}

func fingerprint(pubkey ssh.PublicKey) string {
	hash := sha256.Sum256(pubkey.Marshal())
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(hash[:])
}
