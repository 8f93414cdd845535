package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"propdesk/api/internal/config"
	"propdesk/api/internal/counterproposal"
	"propdesk/api/internal/cpf"
	"propdesk/api/internal/lifecycle"
	"propdesk/api/internal/proposal"
	"propdesk/api/internal/session"
	"propdesk/api/internal/sharelink"
	"propdesk/api/internal/signature"
	"propdesk/api/internal/stage"
	"propdesk/api/internal/store"
	"propdesk/api/internal/upstream"
)

// sessionStore is the token → session persistence the service depends on.
type sessionStore interface {
	Save(ctx context.Context, token string, sess session.Session) error
	Lookup(ctx context.Context, token string) (session.Session, bool, error)
	Clear(ctx context.Context, token string) error
	Ping(ctx context.Context) error
}

// draftStore is the form persistence handed down to each controller.
type draftStore interface {
	SaveDraft(ctx context.Context, subject string, form json.RawMessage, stageN int) error
	LoadDraft(ctx context.Context, subject string) (store.Draft, bool, error)
	ClearDraft(ctx context.Context, subject string) error
	Ping(ctx context.Context) error
}

// upstreamAPI is everything the service and its controllers ask of the
// collaborators. *upstream.Client implements it.
type upstreamAPI interface {
	ResolveIdentity(ctx context.Context, taxID string) (upstream.Resolution, error)

	CreateProposal(ctx context.Context, p proposal.Proposal, role, subject, idempotencyKey string) (proposal.Proposal, error)
	GetProposalByIdentity(ctx context.Context, id, role, subject string) (proposal.Patch, error)
	GetProposalByLink(ctx context.Context, id, link string) (proposal.Patch, error)
	UpdateProposalStage(ctx context.Context, id string, stageN int, patch proposal.Patch, role, subject string) error
	ProposalStatus(ctx context.Context, id, role, subject string) (int, string, error)
	ListProposals(ctx context.Context, filter upstream.ProposalFilter, role, subject string) (upstream.ProposalPage, error)

	ListProposalSigners(ctx context.Context, proposalID string) ([]signature.Signer, error)
	SendForSignature(ctx context.Context, scope, id string, signers []upstream.SignerRequest) error
	SigningLink(ctx context.Context, signerID string) (string, error)

	CreateCounterProposal(ctx context.Context, cp counterproposal.CounterProposal, role, subject, idempotencyKey string) (counterproposal.CounterProposal, error)
	ListCounterProposals(ctx context.Context, proposalID, role, subject string, page, pageSize int) (counterproposal.Page, error)
	UpdateCounterProposalStatus(ctx context.Context, id, status, role, subject string) error
	DeleteCounterProposal(ctx context.Context, id, role, subject string) error
	CounterProposalPDFURL(id, role string) string

	ListCharges(ctx context.Context, proposalID, role, subject string) ([]upstream.Charge, error)
	SendReminder(ctx context.Context, chargeID string) error
}

// Service owns one lifecycle controller per authenticated token, plus the
// session store and the collaborator clients.
type Service struct {
	cfg      config.Config
	sessions sessionStore
	drafts   draftStore
	api      upstreamAPI
	counter  *counterproposal.Service
	now      func() time.Time

	mu          sync.Mutex
	controllers map[string]*controllerEntry
}

type controllerEntry struct {
	ctrl     *lifecycle.Controller
	lastSeen time.Time
}

func New(cfg config.Config, sessions sessionStore, drafts draftStore, api upstreamAPI, counter *counterproposal.Service) *Service {
	return &Service{
		cfg:         cfg,
		sessions:    sessions,
		drafts:      drafts,
		api:         api,
		counter:     counter,
		now:         time.Now,
		controllers: make(map[string]*controllerEntry),
	}
}

// LoginResult is what a successful tax-ID login hands back to the client.
type LoginResult struct {
	Token     string
	Role      string
	Identity  session.Identity
	ExpiresAt time.Time
}

// Login resolves a tax ID into a session. The checksum gate runs before
// any network call, so a mistyped document never reaches the identity
// collaborator.
func (s *Service) Login(ctx context.Context, rawTaxID string) (LoginResult, error) {
	taxID := cpf.Normalize(rawTaxID)
	if !cpf.Valid(taxID) {
		return LoginResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid tax ID", map[string]string{
			"taxId": "tax ID failed checksum validation",
		})
	}

	resolved, err := s.api.ResolveIdentity(ctx, taxID)
	if err != nil {
		return LoginResult{}, err
	}

	role := string(stage.Normalize(resolved.Role))
	sess := session.Session{
		Subject:   taxID,
		Role:      role,
		Identity:  resolved.Identity,
		ExpiresAt: s.now().Add(s.cfg.SessionTTL),
	}

	token := newToken()
	if err := s.sessions.Save(ctx, token, sess); err != nil {
		return LoginResult{}, err
	}

	ctrl := s.controller(token)
	ctrl.BindSession(sess)

	return LoginResult{
		Token:     token,
		Role:      role,
		Identity:  resolved.Identity,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// Restore revalidates a token against the session store and rebinds its
// controller, so a reopened tab picks up where it left off.
func (s *Service) Restore(ctx context.Context, token string) (session.Session, error) {
	sess, ok, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		return session.Session{}, err
	}
	if !ok {
		s.dropController(token)
		return session.Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Session expired or unknown", nil)
	}

	ctrl := s.controller(token)
	if _, bound := ctrl.Session(); !bound {
		ctrl.BindSession(sess)
	}
	return sess, nil
}

// Logout clears the stored session and retires the token's controller.
// Logging out an unknown token succeeds.
func (s *Service) Logout(ctx context.Context, token string) error {
	s.dropController(token)
	return s.sessions.Clear(ctx, token)
}

// Controller returns the token's controller after revalidating the
// session.
func (s *Service) Controller(ctx context.Context, token string) (*lifecycle.Controller, session.Session, error) {
	sess, err := s.Restore(ctx, token)
	if err != nil {
		return nil, session.Session{}, err
	}
	return s.controller(token), sess, nil
}

// controller returns the live controller for a token, creating and
// registering one when needed. Idle entries past the session TTL are
// retired on the way.
func (s *Service) controller(token string) *lifecycle.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, entry := range s.controllers {
		if now.Sub(entry.lastSeen) > s.cfg.SessionTTL {
			entry.ctrl.Close()
			delete(s.controllers, key)
		}
	}

	entry, ok := s.controllers[token]
	if !ok {
		ctrl := lifecycle.New(s.api, s.api, s.drafts)
		ctrl.StartExpirySweep(s.cfg.SessionSweep)
		entry = &controllerEntry{ctrl: ctrl}
		s.controllers[token] = entry
	}
	entry.lastSeen = now
	return entry.ctrl
}

func (s *Service) dropController(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.controllers[token]; ok {
		entry.ctrl.ClearSession()
		entry.ctrl.Close()
		delete(s.controllers, token)
	}
}

// IssueShareLink mints a signed link token granting link-path access to
// one proposal.
func (s *Service) IssueShareLink(proposalID string) (string, time.Time, error) {
	token, err := sharelink.Issue([]byte(s.cfg.LinkSecret), proposalID, s.cfg.LinkTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, s.now().Add(s.cfg.LinkTTL), nil
}

// ParseShareLink validates a link token and returns the proposal it
// grants access to.
func (s *Service) ParseShareLink(token string) (string, error) {
	claims, err := sharelink.Parse([]byte(s.cfg.LinkSecret), token)
	if err != nil {
		return "", err
	}
	return claims.ProposalID, nil
}

// ListProposals proxies the console's proposal listing. On failure the
// empty page comes back alongside the error so the client resets instead
// of keeping stale counts.
func (s *Service) ListProposals(ctx context.Context, filter upstream.ProposalFilter, sess session.Session) (upstream.ProposalPage, error) {
	page, err := s.api.ListProposals(ctx, filter, sess.Role, sess.Subject)
	if err != nil {
		log.Printf("app: list proposals: %v", err)
		return upstream.ProposalPage{Items: []proposal.Proposal{}, Page: 1, PageCount: 1}, err
	}
	if page.Items == nil {
		page.Items = []proposal.Proposal{}
	}
	if page.Page < 1 {
		page.Page = 1
	}
	if page.PageCount < 1 {
		page.PageCount = 1
	}
	return page, nil
}

func (s *Service) CounterProposals() *counterproposal.Service {
	return s.counter
}

// SendForSignature dispatches a proposal's current signer set to the
// signing provider.
func (s *Service) SendForSignature(ctx context.Context, proposalID string, signers []upstream.SignerRequest) error {
	return s.api.SendForSignature(ctx, upstream.ScopeProposal, proposalID, signers)
}

func (s *Service) SigningLink(ctx context.Context, signerID string) (string, error) {
	return s.api.SigningLink(ctx, signerID)
}

// ListCharges returns the billing charges of a proposal for the reminder
// console.
func (s *Service) ListCharges(ctx context.Context, proposalID string, sess session.Session) ([]upstream.Charge, error) {
	charges, err := s.api.ListCharges(ctx, proposalID, sess.Role, sess.Subject)
	if err != nil {
		return nil, err
	}
	if charges == nil {
		charges = []upstream.Charge{}
	}
	return charges, nil
}

func (s *Service) SendReminder(ctx context.Context, chargeID string) error {
	return s.api.SendReminder(ctx, chargeID)
}

// Ping checks the service's own stores; the collaborators are not part of
// readiness.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.drafts.Ping(ctx); err != nil {
		return err
	}
	return s.sessions.Ping(ctx)
}

// Close retires every live controller.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, entry := range s.controllers {
		entry.ctrl.Close()
		delete(s.controllers, token)
	}
}

func newToken() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
