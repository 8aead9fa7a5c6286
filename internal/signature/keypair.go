package signature

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
	"filippo.io/age/armor"
	"golang.org/x/crypto/ssh"

	"github.com/adamscao/breakglass/internal/errs"
)

// KeyPair holds an Ed25519 signing key and its public half
type KeyPair struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// GenerateKeyPair generates a new Ed25519 key pair
func GenerateKeyPair() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	return priv, pub, nil
}

// KeyStore reads and writes passphrase-protected private keys. The key is
// marshaled in OpenSSH format and encrypted with an age scrypt recipient.
type KeyStore struct {
	// WorkFactor is the scrypt log2(N) used when saving. Zero keeps the
	// age default.
	WorkFactor int
}

// NewKeyStore creates a key store with the given scrypt work factor
func NewKeyStore(workFactor int) *KeyStore {
	return &KeyStore{WorkFactor: workFactor}
}

// SavePrivateKey encrypts key with passphrase and writes it to path with
// owner-only permissions.
func (ks *KeyStore) SavePrivateKey(key ed25519.PrivateKey, path, passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("%w: passphrase is required", errs.ErrValidation)
	}

	block, err := ssh.MarshalPrivateKey(key, "")
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	plaintext := pem.EncodeToMemory(block)

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("failed to create scrypt recipient: %w", err)
	}
	if ks.WorkFactor > 0 {
		recipient.SetWorkFactor(ks.WorkFactor)
	}

	var buf bytes.Buffer
	armored := armor.NewWriter(&buf)
	w, err := age.Encrypt(armored, recipient)
	if err != nil {
		return fmt.Errorf("failed to create encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("failed to encrypt private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return fmt.Errorf("failed to finalize armor: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory for private key: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to restrict private key permissions: %w", err)
	}
	return nil
}

// LoadPrivateKey reads and decrypts a private key. A missing file or a wrong
// passphrase both fail with errs.ErrAuthentication.
func (ks *KeyStore) LoadPrivateKey(path, passphrase string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read private key: %w", errs.ErrAuthentication, err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrAuthentication, err)
	}

	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(data)), identity)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt private key: %w", errs.ErrAuthentication, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt private key: %w", errs.ErrAuthentication, err)
	}

	raw, err := ssh.ParseRawPrivateKey(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	switch k := raw.(type) {
	case ed25519.PrivateKey:
		return k, nil
	case *ed25519.PrivateKey:
		return *k, nil
	default:
		return nil, fmt.Errorf("%w: private key is %T, want ed25519", errs.ErrFormat, raw)
	}
}

// LoadOrGenerate loads the key pair at the given paths, generating and
// saving a new one when the private key file does not exist yet. The
// boolean result reports whether a key was generated.
func (ks *KeyStore) LoadOrGenerate(privatePath, publicPath, passphrase string) (*KeyPair, bool, error) {
	if _, err := os.Stat(privatePath); err == nil {
		priv, err := ks.LoadPrivateKey(privatePath, passphrase)
		if err != nil {
			return nil, false, err
		}
		pub := priv.Public().(ed25519.PublicKey)
		if _, err := os.Stat(publicPath); errors.Is(err, os.ErrNotExist) {
			if err := SavePublicKey(pub, publicPath); err != nil {
				return nil, false, err
			}
		}
		return &KeyPair{PrivateKey: priv, PublicKey: pub}, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("failed to stat private key: %w", err)
	}

	priv, pub, err := GenerateKeyPair()
	if err != nil {
		return nil, false, err
	}
	if err := ks.SavePrivateKey(priv, privatePath, passphrase); err != nil {
		return nil, false, err
	}
	if err := SavePublicKey(pub, publicPath); err != nil {
		return nil, false, err
	}
	return &KeyPair{PrivateKey: priv, PublicKey: pub}, true, nil
}

// SavePublicKey writes pub in OpenSSH authorized_keys format
func SavePublicKey(pub ed25519.PublicKey, path string) error {
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return fmt.Errorf("failed to convert public key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for public key: %w", err)
	}
	if err := os.WriteFile(path, ssh.MarshalAuthorizedKey(sshPub), 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// LoadPublicKey reads an Ed25519 public key in authorized_keys format
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	return ParsePublicKey(data)
}

// ParsePublicKey parses an Ed25519 public key in authorized_keys format
func ParsePublicKey(data []byte) (ed25519.PublicKey, error) {
	sshPub, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse public key: %w", errs.ErrFormat, err)
	}
	cryptoPub, ok := sshPub.(ssh.CryptoPublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported public key type %s", errs.ErrFormat, sshPub.Type())
	}
	pub, ok := cryptoPub.CryptoPublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is %s, want ssh-ed25519", errs.ErrFormat, sshPub.Type())
	}
	return pub, nil
}
