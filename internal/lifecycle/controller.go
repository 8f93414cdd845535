// Package lifecycle drives one user's proposal workflow: session binding,
// the draft form, the two-path proposal load, the stage gate and the
// signature aggregate. One Controller serves one authenticated token.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"propdesk/api/internal/proposal"
	"propdesk/api/internal/session"
	"propdesk/api/internal/signature"
	"propdesk/api/internal/stage"
	"propdesk/api/internal/store"
	"propdesk/api/internal/upstream"
)

var (
	// ErrNoSession is returned by operations that need an identity scope
	// while no valid session is bound.
	ErrNoSession = errors.New("no active session")

	// ErrAccessDenied is the terminal load outcome after both the identity
	// and the link path refused access.
	ErrAccessDenied = upstream.ErrAccessDenied

	// ErrStageLocked rejects an edit of a stage the role may no longer
	// modify.
	ErrStageLocked = errors.New("stage is locked for this role")

	// ErrNotUnlocked rejects advancing past a stage the server has not
	// confirmed yet.
	ErrNotUnlocked = errors.New("next stage not unlocked")

	// ErrSaveInFlight rejects a repeated save of a stage whose previous
	// save has not come back yet.
	ErrSaveInFlight = errors.New("save already in flight")
)

// ValidationError carries the per-field messages for a stage save refused
// before any network call.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %d field(s)", len(e.Fields))
}

// proposalAPI is the slice of the workflow backend the controller needs.
type proposalAPI interface {
	CreateProposal(ctx context.Context, p proposal.Proposal, role, subject, idempotencyKey string) (proposal.Proposal, error)
	GetProposalByIdentity(ctx context.Context, id, role, subject string) (proposal.Patch, error)
	GetProposalByLink(ctx context.Context, id, link string) (proposal.Patch, error)
	UpdateProposalStage(ctx context.Context, id string, stage int, patch proposal.Patch, role, subject string) error
	ProposalStatus(ctx context.Context, id, role, subject string) (int, string, error)
}

// signerAPI fetches the proposal's signer list for the aggregate.
type signerAPI interface {
	ListProposalSigners(ctx context.Context, proposalID string) ([]signature.Signer, error)
}

// draftStore persists the unsubmitted form between visits.
type draftStore interface {
	SaveDraft(ctx context.Context, subject string, form json.RawMessage, stage int) error
	LoadDraft(ctx context.Context, subject string) (store.Draft, bool, error)
	ClearDraft(ctx context.Context, subject string) error
}

// Controller is the state machine behind the proposal console. All state
// transitions happen under its mutex; network calls never do.
type Controller struct {
	api     proposalAPI
	signers signerAPI
	drafts  draftStore
	now     func() time.Time

	mu           sync.Mutex
	sess         *session.Session
	defaultAgent bool

	proposalID   string
	link         string
	form         proposal.Proposal
	gate         stage.Gate
	accessDenied bool

	// loadGen invalidates load responses that arrive after a newer load
	// started; only the latest generation may commit.
	loadGen uint64
	saving  map[int]bool

	agg signature.Aggregate

	sweepStop chan struct{}
	sweepOnce sync.Once
}

func New(api proposalAPI, signers signerAPI, drafts draftStore) *Controller {
	return &Controller{
		api:     api,
		signers: signers,
		drafts:  drafts,
		now:     time.Now,
		gate:    stage.Gate{Unlocked: 0, Current: 1},
		saving:  make(map[int]bool),
	}
}

// View is a consistent snapshot of the controller for rendering.
type View struct {
	ProposalID   string              `json:"proposalId,omitempty"`
	Form         proposal.Proposal   `json:"form"`
	Unlocked     int                 `json:"unlocked"`
	Current      int                 `json:"current"`
	AccessDenied bool                `json:"accessDenied"`
	Signatures   signature.Aggregate `json:"signatures"`
	Finalized    bool                `json:"finalized"`
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		ProposalID:   c.proposalID,
		Form:         c.form,
		Unlocked:     c.gate.Unlocked,
		Current:      c.gate.Current,
		AccessDenied: c.accessDenied,
		Signatures:   c.agg,
		Finalized:    c.gate.Unlocked >= 3 && c.agg.FullyComplete(),
	}
}

// BindSession attaches a session. For an agent the session identity is
// auto-filled as the first agent when the form has none; that selection is
// remembered so session expiry can undo it.
func (c *Controller) BindSession(sess session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sess = &sess
	if stage.Normalize(sess.Role) == stage.RoleAgent && len(c.form.Agents) == 0 {
		c.form.Agents = []proposal.Agent{{
			Name:  sess.Identity.Name,
			TaxID: sess.Subject,
			Email: sess.Identity.Email,
			Unit:  sess.Identity.Unit,
		}}
		c.defaultAgent = true
	}
}

// ClearSession drops the session and any state that only existed because
// of it.
func (c *Controller) ClearSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearSessionLocked()
}

func (c *Controller) clearSessionLocked() {
	c.sess = nil
	if c.defaultAgent {
		c.form.Agents = nil
		c.defaultAgent = false
	}
}

// Session returns the bound session if it is still valid. An expired
// session is cleared on read, exactly as the sweep would.
func (c *Controller) Session() (session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessionLocked()
	if !ok {
		return session.Session{}, false
	}
	return *sess, true
}

func (c *Controller) sessionLocked() (*session.Session, bool) {
	if c.sess == nil {
		return nil, false
	}
	if c.sess.Expired(c.now()) {
		c.clearSessionLocked()
		return nil, false
	}
	return c.sess, true
}

// StartExpirySweep checks the session deadline on a fixed cadence so an
// idle tab loses its expired session without waiting for the next request.
func (c *Controller) StartExpirySweep(interval time.Duration) {
	c.mu.Lock()
	if c.sweepStop != nil {
		c.mu.Unlock()
		return
	}
	c.sweepStop = make(chan struct{})
	stop := c.sweepStop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.sess != nil && c.sess.Expired(c.now()) {
					log.Printf("lifecycle: session for %s expired, clearing", c.sess.Subject)
					c.clearSessionLocked()
				}
				c.mu.Unlock()
			}
		}
	}()
}

// Close stops the expiry sweep. Safe to call more than once.
func (c *Controller) Close() {
	c.sweepOnce.Do(func() {
		c.mu.Lock()
		stop := c.sweepStop
		c.mu.Unlock()
		if stop != nil {
			close(stop)
		}
	})
}

// UpdateForm merges an edit into the form and autosaves the draft while
// the proposal has not been submitted. Draft write failures are logged and
// swallowed: persistence must never interrupt typing.
func (c *Controller) UpdateForm(ctx context.Context, patch proposal.Patch) {
	c.mu.Lock()
	// Edits never move the workflow markers; those belong to the server.
	patch.ID = nil
	patch.Sequence = nil
	patch.Status = nil
	patch.Stage = nil
	proposal.Apply(&c.form, patch)
	if patch.Agents != nil {
		c.defaultAgent = false
	}
	c.autosaveLocked(ctx)
	c.mu.Unlock()
}

func (c *Controller) autosaveLocked(ctx context.Context) {
	if c.form.ID != "" && c.form.Status == proposal.StatusAvailable {
		return
	}
	sess, ok := c.sessionLocked()
	if !ok {
		return
	}
	raw, err := json.Marshal(c.form)
	if err != nil {
		log.Printf("lifecycle: marshal draft: %v", err)
		return
	}
	if err := c.drafts.SaveDraft(ctx, sess.Subject, raw, c.gate.Current); err != nil {
		log.Printf("lifecycle: save draft: %v", err)
	}
}

// SeedFromDraft restores the saved form for the session's subject. It only
// applies while no identified proposal is loaded.
func (c *Controller) SeedFromDraft(ctx context.Context) error {
	c.mu.Lock()
	if c.proposalID != "" {
		c.mu.Unlock()
		return nil
	}
	sess, ok := c.sessionLocked()
	if !ok {
		c.mu.Unlock()
		return ErrNoSession
	}
	subject := sess.Subject
	c.mu.Unlock()

	draft, ok, err := c.drafts.LoadDraft(ctx, subject)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var form proposal.Proposal
	if err := json.Unmarshal(draft.Form, &form); err != nil {
		return fmt.Errorf("decode draft: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proposalID != "" {
		return nil
	}
	c.form = form
	c.defaultAgent = false
	c.gate.Current = draft.Stage
	if c.gate.Current < 1 || c.gate.Current > 3 {
		c.gate.Current = 1
	}
	return nil
}

// Reset discards the form, the gate and the subject's draft, returning the
// controller to the blank new-proposal state.
func (c *Controller) Reset(ctx context.Context) {
	c.mu.Lock()
	sess, hasSess := c.sessionLocked()
	var subject string
	if hasSess {
		subject = sess.Subject
	}
	c.proposalID = ""
	c.link = ""
	c.form = proposal.Proposal{}
	c.gate = stage.Gate{Unlocked: 0, Current: 1}
	c.accessDenied = false
	c.agg = signature.Aggregate{}
	c.defaultAgent = false
	c.mu.Unlock()

	if hasSess {
		if err := c.drafts.ClearDraft(ctx, subject); err != nil {
			log.Printf("lifecycle: clear draft: %v", err)
		}
	}
}

// Load resolves a proposal by ID. With a session it tries the identity
// scope first and falls back to the link on an access refusal; without a
// session only the link path exists. Both paths refusing sets the
// dedicated access-denied state instead of a generic failure. A load
// superseded by a newer one commits nothing.
func (c *Controller) Load(ctx context.Context, id, link string) error {
	c.mu.Lock()
	c.loadGen++
	gen := c.loadGen
	var role, subject string
	sess, hasSess := c.sessionLocked()
	if hasSess {
		role = string(stage.Normalize(sess.Role))
		subject = sess.Subject
	}
	c.mu.Unlock()

	patch, err := c.fetch(ctx, id, link, hasSess, role, subject)
	if errors.Is(err, upstream.ErrAccessDenied) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.loadGen {
			return nil
		}
		c.accessDenied = true
		return ErrAccessDenied
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.loadGen {
		// A newer load started while this one was on the wire.
		log.Printf("lifecycle: discarding stale load of %s", id)
		return nil
	}

	c.proposalID = id
	c.link = link
	c.accessDenied = false
	c.agg = signature.Aggregate{}
	c.defaultAgent = false

	// A loaded proposal fully replaces the form; merge semantics only
	// matter for fields the server omitted versus sent empty.
	fresh := proposal.Proposal{}
	proposal.Apply(&fresh, patch)
	fresh.ID = id
	c.form = fresh
	c.gate = stage.FromServer(fresh.Stage)
	return nil
}

func (c *Controller) fetch(ctx context.Context, id, link string, hasSess bool, role, subject string) (proposal.Patch, error) {
	if hasSess {
		patch, err := c.api.GetProposalByIdentity(ctx, id, role, subject)
		if err == nil {
			return patch, nil
		}
		if !errors.Is(err, upstream.ErrAccessDenied) || link == "" {
			return proposal.Patch{}, err
		}
		log.Printf("lifecycle: identity scope refused for %s, trying link", id)
	} else if link == "" {
		return proposal.Patch{}, upstream.ErrAccessDenied
	}
	return c.api.GetProposalByLink(ctx, id, link)
}

// RefreshStage refetches only the stage and status markers, leaving
// in-progress edits alone. The server stays authoritative even when it
// reports a lower stage than before; a regression is logged as a
// consistency signal, not guarded against.
func (c *Controller) RefreshStage(ctx context.Context) error {
	c.mu.Lock()
	id := c.proposalID
	gen := c.loadGen
	var role, subject string
	sess, hasSess := c.sessionLocked()
	if hasSess {
		role = string(stage.Normalize(sess.Role))
		subject = sess.Subject
	}
	c.mu.Unlock()

	if id == "" {
		return nil
	}
	if !hasSess {
		return ErrNoSession
	}

	reported, status, err := c.api.ProposalStatus(ctx, id, role, subject)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.loadGen || c.proposalID != id {
		return nil
	}

	fresh := stage.FromServer(reported)
	if fresh.Unlocked < c.gate.Unlocked {
		log.Printf("lifecycle: proposal %s regressed from stage %d to %d", id, c.gate.Unlocked, fresh.Unlocked)
	}
	c.gate.Unlocked = fresh.Unlocked
	if c.gate.Current > 3 {
		c.gate.Current = 3
	}
	c.form.Stage = reported
	c.form.Status = status
	return nil
}

// SaveStage validates and persists one stage. The first stage-1 save of an
// unsubmitted form creates the proposal and clears the draft; later saves
// send a stage-scoped partial update. A save of a stage whose previous
// save is still on the wire is refused.
func (c *Controller) SaveStage(ctx context.Context, stageN int) error {
	if stageN < 1 || stageN > 3 {
		return &ValidationError{Fields: map[string]string{"etapa": "stage must be 1, 2 or 3"}}
	}

	c.mu.Lock()
	sess, ok := c.sessionLocked()
	if !ok {
		c.mu.Unlock()
		return ErrNoSession
	}
	role := stage.Normalize(sess.Role)
	subject := sess.Subject
	if !c.gate.CanEdit(role, stageN) {
		c.mu.Unlock()
		return ErrStageLocked
	}
	if missing := proposal.MissingStageFields(c.form, stageN); missing != nil {
		c.mu.Unlock()
		return &ValidationError{Fields: missing}
	}
	if c.saving[stageN] {
		c.mu.Unlock()
		return ErrSaveInFlight
	}
	c.saving[stageN] = true
	form := c.form
	creating := c.form.ID == ""
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.saving, stageN)
		c.mu.Unlock()
	}()

	if creating {
		created, err := c.api.CreateProposal(ctx, form, string(role), subject, uuid.NewString())
		if err != nil {
			return err
		}

		c.mu.Lock()
		c.proposalID = created.ID
		c.form.ID = created.ID
		c.form.Sequence = created.Sequence
		c.form.Status = created.Status
		c.form.Stage = created.Stage
		c.gate = stage.FromServer(created.Stage)
		c.mu.Unlock()

		// The form now lives on the server; the local draft is done.
		if err := c.drafts.ClearDraft(ctx, subject); err != nil {
			log.Printf("lifecycle: clear draft after submit: %v", err)
		}
		return nil
	}

	patch := proposal.StagePatch(form, stageN)
	if err := c.api.UpdateProposalStage(ctx, form.ID, stageN, patch, string(role), subject); err != nil {
		return err
	}
	return c.RefreshStage(ctx)
}

// Advance moves the visible form to the next stage. The server must have
// unlocked it, and moving off stage 1 additionally needs a complete owner
// record so stage 2 does not open on a blank counterparty.
func (c *Controller) Advance(ctx context.Context) error {
	c.mu.Lock()
	from := c.gate.Current
	if from >= 3 {
		c.mu.Unlock()
		return ErrNotUnlocked
	}
	if !c.gate.CanAdvance(from) {
		c.mu.Unlock()
		return ErrNotUnlocked
	}
	if from == 1 && !proposal.OwnerComplete(c.form) {
		c.mu.Unlock()
		return &ValidationError{Fields: proposal.MissingStageFields(c.form, 2)}
	}
	c.gate.Current = from + 1
	c.autosaveLocked(ctx)
	c.mu.Unlock()
	return nil
}

// Retreat moves the visible form back one stage; earlier stages stay
// readable regardless of the gate.
func (c *Controller) Retreat(ctx context.Context) {
	c.mu.Lock()
	if c.gate.Current > 1 {
		c.gate.Current--
		c.autosaveLocked(ctx)
	}
	c.mu.Unlock()
}

// RefreshSignatures rebuilds the per-stage signature aggregate. It only
// runs on the final stage of an identified proposal; anywhere else it is a
// no-op. A fetch failure empties the aggregate rather than leaving a stale
// one, and the caller may simply retry.
func (c *Controller) RefreshSignatures(ctx context.Context) error {
	c.mu.Lock()
	id := c.proposalID
	current := c.gate.Current
	gen := c.loadGen
	c.mu.Unlock()

	if id == "" || current != 3 {
		return nil
	}

	signers, err := c.signers.ListProposalSigners(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.loadGen || c.proposalID != id {
		return nil
	}
	if err != nil {
		log.Printf("lifecycle: list signers for %s: %v", id, err)
		c.agg = signature.Aggregate{}
		return err
	}
	c.agg = signature.Partition(signers)
	return nil
}
