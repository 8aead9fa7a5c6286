package credential

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adamscao/breakglass/internal/errs"
	"github.com/adamscao/breakglass/internal/models"
)

// Store persists credential requests and their approvals and denials.
// Every transition is a compare-and-set on the stored status.
type Store interface {
	CreateRequest(ctx context.Context, req *models.CredentialRequest) error
	GetRequest(ctx context.Context, id string) (*models.CredentialRequest, error)
	// ListRequests returns requests newest first. Only EmergencyOnly is
	// applied; status filtering is left to the caller.
	ListRequests(ctx context.Context, filter models.RequestFilter) ([]*models.CredentialRequest, error)
	// ListExpiredPending returns pending requests whose expiry is at or before now.
	ListExpiredPending(ctx context.Context, now time.Time) ([]*models.CredentialRequest, error)

	// ApproveRequest stores approval and moves its request from pending to
	// approved in one step. It fails with errs.ErrState if the request
	// already has an approval, is not pending or has expired at now.
	ApproveRequest(ctx context.Context, approval *models.CredentialApproval, now time.Time) error
	GetApproval(ctx context.Context, requestID string) (*models.CredentialApproval, error)
	SetApprovalLedgerTxID(ctx context.Context, requestID, txID string) error

	// RevertApproval removes the approval and moves the request from
	// approved back to pending. It undoes an approval that could not be
	// recorded in the ledger.
	RevertApproval(ctx context.Context, requestID string) error

	// DenyRequest stores denial and moves its request from pending to denied.
	DenyRequest(ctx context.Context, denial *models.CredentialDenial, now time.Time) error
	// RevertDenial removes the denial and moves the request from denied
	// back to pending.
	RevertDenial(ctx context.Context, requestID string) error

	// UpdateStatus moves a request from one status to another, failing with
	// errs.ErrState if the stored status is not from.
	UpdateStatus(ctx context.Context, id string, from, to models.RequestStatus) error
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu        sync.Mutex
	requests  map[string]*models.CredentialRequest
	approvals map[string]*models.CredentialApproval
	denials   map[string]*models.CredentialDenial
	order     []string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]*models.CredentialRequest),
		approvals: make(map[string]*models.CredentialApproval),
		denials:   make(map[string]*models.CredentialDenial),
	}
}

// CreateRequest implements Store
func (s *MemoryStore) CreateRequest(_ context.Context, req *models.CredentialRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return fmt.Errorf("%w: request %s already exists", errs.ErrState, req.ID)
	}
	s.requests[req.ID] = cloneRequest(req)
	s.order = append(s.order, req.ID)
	return nil
}

// GetRequest implements Store
func (s *MemoryStore) GetRequest(_ context.Context, id string) (*models.CredentialRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: request %s", errs.ErrNotFound, id)
	}
	return cloneRequest(req), nil
}

// ListRequests implements Store
func (s *MemoryStore) ListRequests(_ context.Context, filter models.RequestFilter) ([]*models.CredentialRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CredentialRequest
	for _, id := range s.order {
		req := s.requests[id]
		if filter.EmergencyOnly && !req.Emergency {
			continue
		}
		out = append(out, cloneRequest(req))
	}
	sortNewestFirst(out)
	return out, nil
}

// ListExpiredPending implements Store
func (s *MemoryStore) ListExpiredPending(_ context.Context, now time.Time) ([]*models.CredentialRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CredentialRequest
	for _, id := range s.order {
		req := s.requests[id]
		if req.Status == models.StatusPending && !now.Before(req.ExpiresAt) {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

// ApproveRequest implements Store
func (s *MemoryStore) ApproveRequest(_ context.Context, approval *models.CredentialApproval, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[approval.RequestID]
	if !ok {
		return fmt.Errorf("%w: request %s", errs.ErrNotFound, approval.RequestID)
	}
	if _, ok := s.approvals[approval.RequestID]; ok {
		return fmt.Errorf("%w: request %s already approved", errs.ErrState, approval.RequestID)
	}
	if req.EffectiveStatus(now) != models.StatusPending {
		return fmt.Errorf("%w: request %s is %s", errs.ErrState, req.ID, req.EffectiveStatus(now))
	}
	a := *approval
	s.approvals[approval.RequestID] = &a
	req.Status = models.StatusApproved
	return nil
}

// GetApproval implements Store
func (s *MemoryStore) GetApproval(_ context.Context, requestID string) (*models.CredentialApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: approval for %s", errs.ErrNotFound, requestID)
	}
	out := *a
	return &out, nil
}

// SetApprovalLedgerTxID implements Store
func (s *MemoryStore) SetApprovalLedgerTxID(_ context.Context, requestID, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[requestID]
	if !ok {
		return fmt.Errorf("%w: approval for %s", errs.ErrNotFound, requestID)
	}
	a.LedgerTxID = txID
	return nil
}

// DenyRequest implements Store
func (s *MemoryStore) DenyRequest(_ context.Context, denial *models.CredentialDenial, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[denial.RequestID]
	if !ok {
		return fmt.Errorf("%w: request %s", errs.ErrNotFound, denial.RequestID)
	}
	if st := req.EffectiveStatus(now); st != models.StatusPending {
		return fmt.Errorf("%w: request %s is %s", errs.ErrState, req.ID, st)
	}
	d := *denial
	s.denials[denial.RequestID] = &d
	req.Status = models.StatusDenied
	return nil
}

// RevertApproval implements Store
func (s *MemoryStore) RevertApproval(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return fmt.Errorf("%w: request %s", errs.ErrNotFound, requestID)
	}
	if req.Status != models.StatusApproved {
		return fmt.Errorf("%w: request %s is %s, not approved", errs.ErrState, requestID, req.Status)
	}
	delete(s.approvals, requestID)
	req.Status = models.StatusPending
	return nil
}

// RevertDenial implements Store
func (s *MemoryStore) RevertDenial(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return fmt.Errorf("%w: request %s", errs.ErrNotFound, requestID)
	}
	if req.Status != models.StatusDenied {
		return fmt.Errorf("%w: request %s is %s, not denied", errs.ErrState, requestID, req.Status)
	}
	delete(s.denials, requestID)
	req.Status = models.StatusPending
	return nil
}

// UpdateStatus implements Store
func (s *MemoryStore) UpdateStatus(_ context.Context, id string, from, to models.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return fmt.Errorf("%w: request %s", errs.ErrNotFound, id)
	}
	if req.Status != from {
		return fmt.Errorf("%w: request %s is %s, not %s", errs.ErrState, id, req.Status, from)
	}
	req.Status = to
	return nil
}

func cloneRequest(r *models.CredentialRequest) *models.CredentialRequest {
	out := *r
	if r.Context != nil {
		out.Context = make(map[string]string, len(r.Context))
		for k, v := range r.Context {
			out.Context[k] = v
		}
	}
	return &out
}

// sortNewestFirst orders by creation time, then id, both descending
func sortNewestFirst(reqs []*models.CredentialRequest) {
	sort.SliceStable(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
		}
		return reqs[i].ID > reqs[j].ID
	})
}
