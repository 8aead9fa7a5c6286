package signature

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adamscao/breakglass/internal/errs"
)

// ApproverKeys resolves an approver identity to the public key its
// approvals must verify against.
type ApproverKeys interface {
	PublicKey(ctx context.Context, approverID string) (ed25519.PublicKey, error)
}

// StaticKeys is an in-memory approver registry
type StaticKeys struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewStaticKeys creates a registry from keys. The map is copied.
func NewStaticKeys(keys map[string]ed25519.PublicKey) *StaticKeys {
	s := &StaticKeys{keys: make(map[string]ed25519.PublicKey, len(keys))}
	for id, k := range keys {
		s.keys[id] = k
	}
	return s
}

// Add registers or replaces the key for approverID
func (s *StaticKeys) Add(approverID string, pub ed25519.PublicKey) {
	s.mu.Lock()
	s.keys[approverID] = pub
	s.mu.Unlock()
}

// PublicKey implements ApproverKeys
func (s *StaticKeys) PublicKey(_ context.Context, approverID string) (ed25519.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := s.keys[approverID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown approver %q", errs.ErrAuthentication, approverID)
	}
	return pub, nil
}

// DirKeys loads approver keys from "<dir>/<approver_id>.pub" on every
// lookup, so adding or removing a file takes effect without a restart.
type DirKeys struct {
	dir string
}

// NewDirKeys creates a registry backed by dir
func NewDirKeys(dir string) *DirKeys {
	return &DirKeys{dir: dir}
}

// PublicKey implements ApproverKeys
func (d *DirKeys) PublicKey(_ context.Context, approverID string) (ed25519.PublicKey, error) {
	if approverID == "" || approverID == "." || strings.Contains(approverID, "..") ||
		strings.ContainsAny(approverID, `/\`) {
		return nil, fmt.Errorf("%w: invalid approver id %q", errs.ErrValidation, approverID)
	}

	pub, err := LoadPublicKey(filepath.Join(d.dir, approverID+".pub"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: unknown approver %q", errs.ErrAuthentication, approverID)
	}
	if err != nil {
		return nil, err
	}
	return pub, nil
}
