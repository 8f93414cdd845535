package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propdesk/api/internal/config"
	"propdesk/api/internal/counterproposal"
	"propdesk/api/internal/proposal"
	"propdesk/api/internal/session"
	"propdesk/api/internal/signature"
	"propdesk/api/internal/store"
	"propdesk/api/internal/upstream"
)

const (
	validCPF  = "11144477735"
	validCNPJ = "12345678000195"
)

type memSessions struct {
	mu   sync.Mutex
	data map[string]session.Session
}

func newMemSessions() *memSessions {
	return &memSessions{data: make(map[string]session.Session)}
}

func (m *memSessions) Save(_ context.Context, token string, sess session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[token] = sess
	return nil
}

func (m *memSessions) Lookup(_ context.Context, token string) (session.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.data[token]
	if ok && sess.Expired(time.Now()) {
		delete(m.data, token)
		return session.Session{}, false, nil
	}
	return sess, ok, nil
}

func (m *memSessions) Clear(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, token)
	return nil
}

func (m *memSessions) Ping(context.Context) error { return nil }

type memDrafts struct {
	mu   sync.Mutex
	data map[string]store.Draft
}

func newMemDrafts() *memDrafts {
	return &memDrafts{data: make(map[string]store.Draft)}
}

func (m *memDrafts) SaveDraft(_ context.Context, subject string, form json.RawMessage, stageN int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[subject] = store.Draft{Form: form, Stage: stageN}
	return nil
}

func (m *memDrafts) LoadDraft(_ context.Context, subject string) (store.Draft, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[subject]
	return d, ok, nil
}

func (m *memDrafts) ClearDraft(_ context.Context, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, subject)
	return nil
}

func (m *memDrafts) Ping(context.Context) error { return nil }

type fakeUpstream struct {
	mu            sync.Mutex
	identityCalls int

	resolveFn    func(taxID string) (upstream.Resolution, error)
	createFn     func(p proposal.Proposal) (proposal.Proposal, error)
	byIdentityFn func(id string) (proposal.Patch, error)
	byLinkFn     func(id, link string) (proposal.Patch, error)
	statusFn     func(id string) (int, string, error)
	listFn       func(filter upstream.ProposalFilter) (upstream.ProposalPage, error)
	chargesFn    func(id string) ([]upstream.Charge, error)
	transitionFn func(id, status string) error
	deleteFn     func(id string) error
}

func (f *fakeUpstream) ResolveIdentity(_ context.Context, taxID string) (upstream.Resolution, error) {
	f.mu.Lock()
	f.identityCalls++
	f.mu.Unlock()
	if f.resolveFn != nil {
		return f.resolveFn(taxID)
	}
	return upstream.Resolution{Role: "agent", Identity: session.Identity{Name: "Ana Souza", Unit: "Centro"}}, nil
}

func (f *fakeUpstream) CreateProposal(_ context.Context, p proposal.Proposal, _, _, _ string) (proposal.Proposal, error) {
	if f.createFn != nil {
		return f.createFn(p)
	}
	p.ID = "p1"
	p.Sequence = "2026-0001"
	p.Status = proposal.StatusAvailable
	p.Stage = 1
	return p, nil
}

func (f *fakeUpstream) GetProposalByIdentity(_ context.Context, id, _, _ string) (proposal.Patch, error) {
	if f.byIdentityFn != nil {
		return f.byIdentityFn(id)
	}
	return proposal.Patch{}, upstream.ErrNotFound
}

func (f *fakeUpstream) GetProposalByLink(_ context.Context, id, link string) (proposal.Patch, error) {
	if f.byLinkFn != nil {
		return f.byLinkFn(id, link)
	}
	return proposal.Patch{}, upstream.ErrAccessDenied
}

func (f *fakeUpstream) UpdateProposalStage(context.Context, string, int, proposal.Patch, string, string) error {
	return nil
}

func (f *fakeUpstream) ProposalStatus(_ context.Context, id, _, _ string) (int, string, error) {
	if f.statusFn != nil {
		return f.statusFn(id)
	}
	return 1, proposal.StatusAvailable, nil
}

func (f *fakeUpstream) ListProposals(_ context.Context, filter upstream.ProposalFilter, _, _ string) (upstream.ProposalPage, error) {
	if f.listFn != nil {
		return f.listFn(filter)
	}
	return upstream.ProposalPage{Items: []proposal.Proposal{}, Page: 1, PageCount: 1}, nil
}

func (f *fakeUpstream) ListProposalSigners(context.Context, string) ([]signature.Signer, error) {
	return nil, nil
}

func (f *fakeUpstream) SendForSignature(context.Context, string, string, []upstream.SignerRequest) error {
	return nil
}

func (f *fakeUpstream) SigningLink(context.Context, string) (string, error) {
	return "https://sign.example/s1", nil
}

func (f *fakeUpstream) CreateCounterProposal(_ context.Context, cp counterproposal.CounterProposal, _, _, _ string) (counterproposal.CounterProposal, error) {
	cp.ID = "cp1"
	cp.Status = counterproposal.StatusPending
	return cp, nil
}

func (f *fakeUpstream) ListCounterProposals(context.Context, string, string, string, int, int) (counterproposal.Page, error) {
	return counterproposal.EmptyPage(), nil
}

func (f *fakeUpstream) UpdateCounterProposalStatus(_ context.Context, id, status, _, _ string) error {
	if f.transitionFn != nil {
		return f.transitionFn(id, status)
	}
	return nil
}

func (f *fakeUpstream) DeleteCounterProposal(_ context.Context, id, _, _ string) error {
	if f.deleteFn != nil {
		return f.deleteFn(id)
	}
	return nil
}

func (f *fakeUpstream) CounterProposalPDFURL(id, role string) string {
	return "http://pdf.local/" + id + "?perfil=" + role
}

func (f *fakeUpstream) ListCharges(_ context.Context, id, _, _ string) ([]upstream.Charge, error) {
	if f.chargesFn != nil {
		return f.chargesFn(id)
	}
	return []upstream.Charge{}, nil
}

func (f *fakeUpstream) SendReminder(context.Context, string) error { return nil }

func testConfig() config.Config {
	return config.Config{
		SessionTTL:   time.Hour,
		SessionSweep: time.Minute,
		LinkSecret:   "test-secret",
		LinkTTL:      time.Hour,
	}
}

func newTestServer(api *fakeUpstream) (*HTTPServer, *Service) {
	service := New(testConfig(), newMemSessions(), newMemDrafts(), api, counterproposal.NewService(api))
	return NewHTTPServer(service, "*"), service
}

func do(t *testing.T, h *HTTPServer, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func login(t *testing.T, h *HTTPServer, taxID string) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/session/login", "", map[string]string{"taxId": taxID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := decode(t, rec)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestLoginRejectsBadChecksumBeforeNetwork(t *testing.T) {
	api := &fakeUpstream{}
	h, _ := newTestServer(api)

	rec := do(t, h, http.MethodPost, "/api/session/login", "", map[string]string{"taxId": "11144477736"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, rec)["code"])
	assert.Equal(t, 0, api.identityCalls, "checksum failures never reach the identity collaborator")
}

func TestLoginAcceptsFormattedTaxID(t *testing.T) {
	h, _ := newTestServer(&fakeUpstream{})
	token := login(t, h, "111.444.777-35")

	rec := do(t, h, http.MethodGet, "/api/session", token, nil)
	payload := decode(t, rec)
	assert.Equal(t, true, payload["authenticated"])
	assert.Equal(t, "agent", payload["role"])
}

func TestLoginUnknownTaxIDIs404(t *testing.T) {
	api := &fakeUpstream{resolveFn: func(string) (upstream.Resolution, error) {
		return upstream.Resolution{}, upstream.ErrNotFound
	}}
	h, _ := newTestServer(api)

	rec := do(t, h, http.MethodPost, "/api/session/login", "", map[string]string{"taxId": validCNPJ})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec)["code"])
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	h, _ := newTestServer(&fakeUpstream{})

	rec := do(t, h, http.MethodGet, "/api/proposal", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/proposal", "no-such-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutIsIdempotent(t *testing.T) {
	h, _ := newTestServer(&fakeUpstream{})
	token := login(t, h, validCPF)

	rec := do(t, h, http.MethodPost, "/api/session/logout", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/session/logout", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/proposal", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewProposalFlowCreatesOnFirstStageSave(t *testing.T) {
	h, _ := newTestServer(&fakeUpstream{})
	token := login(t, h, validCPF)

	rec := do(t, h, http.MethodPut, "/api/proposal/form", token, map[string]any{
		"terms":    map[string]any{"price": 500000, "proposalDate": "2026-08-01"},
		"buyer":    map[string]any{"name": "Carlos Lima", "taxId": validCPF},
		"property": map[string]any{"code": "IM-42", "address": "Rua das Flores 10"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/proposal/stages/1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	view := decode(t, rec)
	form := view["form"].(map[string]any)
	assert.Equal(t, "p1", form["id"])
	assert.Equal(t, float64(1), view["unlocked"])
}

func TestStageSaveValidationErrorCarriesFields(t *testing.T) {
	h, _ := newTestServer(&fakeUpstream{})
	token := login(t, h, validCPF)

	rec := do(t, h, http.MethodPost, "/api/proposal/stages/1", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	payload := decode(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", payload["code"])
	details := payload["details"].(map[string]any)
	assert.Contains(t, details, "buyer.name")
}

func TestLoadBothPathsDeniedIs403(t *testing.T) {
	api := &fakeUpstream{
		byIdentityFn: func(string) (proposal.Patch, error) { return proposal.Patch{}, upstream.ErrAccessDenied },
		byLinkFn:     func(string, string) (proposal.Patch, error) { return proposal.Patch{}, upstream.ErrAccessDenied },
	}
	h, _ := newTestServer(api)
	token := login(t, h, validCPF)

	rec := do(t, h, http.MethodPost, "/api/proposal/load", token, map[string]string{"id": "p9", "link": "tok"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ACCESS_DENIED", decode(t, rec)["code"])

	rec = do(t, h, http.MethodGet, "/api/proposal", token, nil)
	assert.Equal(t, true, decode(t, rec)["accessDenied"])
}

func TestShareLinkRoundTrip(t *testing.T) {
	api := &fakeUpstream{byLinkFn: func(id, link string) (proposal.Patch, error) {
		assert.Equal(t, "p7", id)
		name := "Carlos"
		return proposal.Patch{Buyer: &proposal.PartyPatch{Name: &name}}, nil
	}}
	h, _ := newTestServer(api)
	token := login(t, h, validCPF)

	rec := do(t, h, http.MethodPost, "/api/proposals/p7/share", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	link, _ := decode(t, rec)["link"].(string)
	require.NotEmpty(t, link)

	// The shared view needs no session at all.
	rec = do(t, h, http.MethodGet, "/api/share/"+link, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	shared := decode(t, rec)["proposal"].(map[string]any)
	assert.Equal(t, "p7", shared["id"])
}

func TestShareLinkTamperedIs403(t *testing.T) {
	h, _ := newTestServer(&fakeUpstream{})

	rec := do(t, h, http.MethodGet, "/api/share/not-a-real-token", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ACCESS_DENIED", decode(t, rec)["code"])
}

func TestCounterProposalTransition(t *testing.T) {
	h, _ := newTestServer(&fakeUpstream{})
	token := login(t, h, validCPF)

	rec := do(t, h, http.MethodPut, "/api/counterproposals/cp1/status", token, map[string]string{"status": "aprovada"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/counterproposals/cp1/status", token, map[string]string{"status": "cancelada"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, rec)["code"])
}

func TestCounterProposalPDFLink(t *testing.T) {
	api := &fakeUpstream{}
	h, _ := newTestServer(api)
	token := login(t, h, validCPF)

	rec := do(t, h, http.MethodGet, "/api/counterproposals/cp1/pdf", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["url"], "cp1")
}

func TestCounterProposalDeleteNeedsConfirmation(t *testing.T) {
	deleteCalls := 0
	api := &fakeUpstream{deleteFn: func(string) error {
		deleteCalls++
		return nil
	}}
	h, _ := newTestServer(api)
	token := login(t, h, validCPF)

	rec := do(t, h, http.MethodDelete, "/api/counterproposals/cp1", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 0, deleteCalls)

	rec = do(t, h, http.MethodDelete, "/api/counterproposals/cp1?confirm=true", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, deleteCalls)
}

func TestCounterProposalDeleteRefusalSurfacesReason(t *testing.T) {
	api := &fakeUpstream{deleteFn: func(string) error {
		return &upstream.RefusalError{Reason: "contraproposta possui assinaturas"}
	}}
	h, _ := newTestServer(api)
	token := login(t, h, validCPF)

	rec := do(t, h, http.MethodDelete, "/api/counterproposals/cp1?confirm=true", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	payload := decode(t, rec)
	assert.Equal(t, "REFUSED", payload["code"])
	assert.Equal(t, "contraproposta possui assinaturas", payload["error"])
}

func TestUpstreamOutageMapsToBadGateway(t *testing.T) {
	api := &fakeUpstream{chargesFn: func(string) ([]upstream.Charge, error) {
		return nil, &upstream.TransientError{Op: "list charges", Status: 503}
	}}
	h, _ := newTestServer(api)
	token := login(t, h, validCPF)

	rec := do(t, h, http.MethodGet, "/api/proposals/p1/charges", token, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", decode(t, rec)["code"])
}

func TestListProposalsFailSoftIncludesEmptyPage(t *testing.T) {
	api := &fakeUpstream{listFn: func(upstream.ProposalFilter) (upstream.ProposalPage, error) {
		return upstream.ProposalPage{}, &upstream.TransientError{Op: "list proposals", Status: 502}
	}}
	h, _ := newTestServer(api)
	token := login(t, h, validCPF)

	rec := do(t, h, http.MethodGet, "/api/proposals?page=3", token, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	payload := decode(t, rec)
	page := payload["page"].(map[string]any)
	assert.Equal(t, float64(1), page["page"], "failure resets to the single empty page")
	assert.Equal(t, []any{}, page["items"])
}

func TestHealthAndReady(t *testing.T) {
	h, _ := newTestServer(&fakeUpstream{})

	rec := do(t, h, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ok"])
}

func TestRequestIDPropagation(t *testing.T) {
	h, _ := newTestServer(&fakeUpstream{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
