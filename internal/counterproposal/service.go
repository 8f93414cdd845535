package counterproposal

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
)

// ErrNonPositivePrice rejects a counter-proposal before any network call
// is made.
var ErrNonPositivePrice = errors.New("proposed price must be greater than zero")

// ErrInvalidTransition rejects any status other than the two terminal ones.
var ErrInvalidTransition = errors.New("status must be aprovada or recusada")

// api is the slice of the upstream client this sub-flow needs.
type api interface {
	CreateCounterProposal(ctx context.Context, cp CounterProposal, role, subject, idempotencyKey string) (CounterProposal, error)
	ListCounterProposals(ctx context.Context, proposalID, role, subject string, page, pageSize int) (Page, error)
	UpdateCounterProposalStatus(ctx context.Context, id, status, role, subject string) error
	DeleteCounterProposal(ctx context.Context, id, role, subject string) error
	CounterProposalPDFURL(id, role string) string
}

type Service struct {
	api api

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewService(api api) *Service {
	return &Service{
		api:      api,
		inflight: make(map[string]struct{}),
	}
}

// Create validates and submits a counter-proposal. Each call carries a
// fresh idempotency key so a retried submit cannot double-create.
func (s *Service) Create(ctx context.Context, cp CounterProposal, role, subject string) (CounterProposal, error) {
	if cp.ProposedPrice <= 0 {
		return CounterProposal{}, ErrNonPositivePrice
	}
	cp.CreatorRole = role
	return s.api.CreateCounterProposal(ctx, cp, role, subject, uuid.NewString())
}

// List returns one newest-first page. Failures come back together with the
// empty single-page default so the caller never keeps a stale page count.
func (s *Service) List(ctx context.Context, proposalID, role, subject string, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	result, err := s.api.ListCounterProposals(ctx, proposalID, role, subject, page, PageSize)
	if err != nil {
		return EmptyPage(), err
	}
	if result.Items == nil {
		result.Items = []CounterProposal{}
	}
	if result.Page < 1 {
		result.Page = 1
	}
	if result.PageCount < 1 {
		result.PageCount = 1
	}
	return result, nil
}

// Transition applies the single-use pending → approved/rejected change.
// While a transition for an ID is in flight, further calls for the same ID
// are no-ops; applied reports whether this call reached the server.
func (s *Service) Transition(ctx context.Context, id, status, role, subject string) (applied bool, err error) {
	if status != StatusApproved && status != StatusRejected {
		return false, ErrInvalidTransition
	}

	s.mu.Lock()
	if _, busy := s.inflight[id]; busy {
		s.mu.Unlock()
		log.Printf("counterproposal: transition for %s already in flight, ignoring", id)
		return false, nil
	}
	s.inflight[id] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	}()

	if err := s.api.UpdateCounterProposalStatus(ctx, id, status, role, subject); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a counter-proposal. Refusals (the record already has
// signatures) pass through with the server's reason intact.
func (s *Service) Delete(ctx context.Context, id, role, subject string) error {
	return s.api.DeleteCounterProposal(ctx, id, role, subject)
}

func (s *Service) PDFURL(id, role string) string {
	return s.api.CounterProposalPDFURL(id, role)
}
