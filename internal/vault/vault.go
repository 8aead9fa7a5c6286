// Package vault is the boundary to the secrets store. Secrets are opaque
// blobs encrypted at rest by the store itself; this package never decrypts.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adamscao/breakglass/internal/errs"
)

// Vault resolves a secret by vault and path
type Vault interface {
	GetSecret(ctx context.Context, vaultID, path string) ([]byte, error)
}

// MemoryVault holds secrets in memory
type MemoryVault struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

// NewMemoryVault creates an empty in-memory vault
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{secrets: make(map[string][]byte)}
}

// Put stores a copy of data under vaultID/path
func (m *MemoryVault) Put(vaultID, path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[vaultID+"/"+path] = append([]byte(nil), data...)
}

// GetSecret implements Vault
func (m *MemoryVault) GetSecret(_ context.Context, vaultID, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.secrets[vaultID+"/"+path]
	if !ok {
		return nil, fmt.Errorf("%w: secret %s/%s", errs.ErrNotFound, vaultID, path)
	}
	return append([]byte(nil), data...), nil
}

// DirVault serves blobs stored as files under <root>/<vault>/<path>
type DirVault struct {
	root string
}

// NewDirVault creates a vault rooted at dir
func NewDirVault(dir string) *DirVault {
	return &DirVault{root: dir}
}

// GetSecret implements Vault
func (d *DirVault) GetSecret(ctx context.Context, vaultID, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := d.resolve(vaultID, path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: secret %s/%s", errs.ErrNotFound, vaultID, path)
		}
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	return data, nil
}

// resolve maps vaultID/path onto the filesystem, refusing anything that
// would escape the vault directory.
func (d *DirVault) resolve(vaultID, path string) (string, error) {
	if vaultID == "" || strings.ContainsAny(vaultID, `/\`) || vaultID == "." || vaultID == ".." {
		return "", fmt.Errorf("%w: invalid vault id %q", errs.ErrValidation, vaultID)
	}
	clean := filepath.Clean("/" + path)
	if path == "" || clean == "/" || clean != "/"+strings.Trim(path, "/") {
		return "", fmt.Errorf("%w: invalid secret path %q", errs.ErrValidation, path)
	}
	return filepath.Join(d.root, vaultID, filepath.FromSlash(clean)), nil
}
