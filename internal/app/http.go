package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"propdesk/api/internal/counterproposal"
	"propdesk/api/internal/lifecycle"
	"propdesk/api/internal/proposal"
	"propdesk/api/internal/session"
	"propdesk/api/internal/sharelink"
	"propdesk/api/internal/upstream"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"stores": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["stores"] = map[string]any{"status": "error", "error": err.Error()}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			TaxID string `json:"taxId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.Login(r.Context(), body.TaxID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     result.Token,
			"role":      result.Role,
			"identity":  result.Identity,
			"expiresAt": result.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		sess, err := s.service.Restore(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"role":          sess.Role,
			"identity":      sess.Identity,
			"expiresAt":     sess.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		if token := bearerToken(r); token != "" {
			_ = s.service.Logout(r.Context(), token)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Public shared view — a signed link token instead of a session.
	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/share/") {
		token := strings.TrimPrefix(r.URL.Path, "/api/share/")
		if token != "" {
			s.handleSharedView(w, r, token)
			return
		}
	}

	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	ctrl, sess, err := s.service.Controller(r.Context(), token)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	if r.URL.Path == "/api/proposal" {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, ctrl.View())
			return
		case http.MethodDelete:
			ctrl.Reset(r.Context())
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/proposal/load" {
		var body struct {
			ID   string `json:"id"`
			Link string `json:"link"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.ID) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id is required", nil)
			return
		}
		if err := ctrl.Load(r.Context(), body.ID, body.Link); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.View())
		return
	}

	if r.Method == http.MethodPut && r.URL.Path == "/api/proposal/form" {
		var patch proposal.Patch
		if err := decodeBody(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ctrl.UpdateForm(r.Context(), patch)
		writeJSON(w, http.StatusOK, ctrl.View())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/proposal/draft/restore" {
		if err := ctrl.SeedFromDraft(r.Context()); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.View())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/proposal/advance" {
		if err := ctrl.Advance(r.Context()); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.View())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/proposal/back" {
		ctrl.Retreat(r.Context())
		writeJSON(w, http.StatusOK, ctrl.View())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/proposal/refresh" {
		if err := ctrl.RefreshStage(r.Context()); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.View())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/proposal/signatures/refresh" {
		if err := ctrl.RefreshSignatures(r.Context()); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.View())
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/proposals" {
		filter := upstream.ProposalFilter{
			Status:   strings.TrimSpace(r.URL.Query().Get("status")),
			DateFrom: strings.TrimSpace(r.URL.Query().Get("from")),
			DateTo:   strings.TrimSpace(r.URL.Query().Get("to")),
			Search:   strings.TrimSpace(r.URL.Query().Get("q")),
			Page:     queryInt(r, "page", 1),
			PageSize: queryInt(r, "pageSize", 10),
		}
		page, err := s.service.ListProposals(r.Context(), filter, sess)
		if err != nil {
			// Fail-soft: the client gets the empty page plus the error code.
			status, code, message, _ := mapError(err)
			writeJSON(w, status, map[string]any{
				"code":  code,
				"error": message,
				"page":  page,
			})
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "proposal" && parts[2] == "stages" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		stageN, err := strconv.Atoi(parts[3])
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "stage must be an integer", nil)
			return
		}
		if err := ctrl.SaveStage(r.Context(), stageN); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.View())
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "proposals" && parts[3] == "share" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		link, expiresAt, err := s.service.IssueShareLink(parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"link": link, "expiresAt": expiresAt.Unix()})
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "proposals" && parts[3] == "counterproposals" {
		s.handleCounterProposalCollection(w, r, sess, parts[2])
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "proposals" && parts[3] == "signers" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			Signers []upstream.SignerRequest `json:"signers"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if len(body.Signers) == 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "at least one signer is required", nil)
			return
		}
		if err := s.service.SendForSignature(r.Context(), parts[2], body.Signers); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "proposals" && parts[3] == "charges" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		charges, err := s.service.ListCharges(r.Context(), parts[2], sess)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"charges": charges})
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "charges" && parts[3] == "remind" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if err := s.service.SendReminder(r.Context(), parts[2]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "signers" && parts[3] == "link" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		link, err := s.service.SigningLink(r.Context(), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": link})
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "counterproposals" {
		s.handleCounterProposalItem(w, r, sess, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSharedView(w http.ResponseWriter, r *http.Request, token string) {
	proposalID, err := s.service.ParseShareLink(token)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	patch, err := s.service.api.GetProposalByLink(r.Context(), proposalID, token)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	var p proposal.Proposal
	proposal.Apply(&p, patch)
	p.ID = proposalID
	writeJSON(w, http.StatusOK, map[string]any{"proposal": p})
}

func (s *HTTPServer) handleCounterProposalCollection(w http.ResponseWriter, r *http.Request, sess session.Session, proposalID string) {
	counter := s.service.CounterProposals()

	if r.Method == http.MethodPost {
		var body counterproposal.CounterProposal
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		body.ProposalID = proposalID
		created, err := counter.Create(r.Context(), body, sess.Role, sess.Subject)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, created)
		return
	}

	if r.Method == http.MethodGet {
		page, err := counter.List(r.Context(), proposalID, sess.Role, sess.Subject, queryInt(r, "page", 1))
		if err != nil {
			status, code, message, _ := mapError(err)
			writeJSON(w, status, map[string]any{
				"code":  code,
				"error": message,
				"page":  page,
			})
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleCounterProposalItem(w http.ResponseWriter, r *http.Request, sess session.Session, parts []string) {
	counter := s.service.CounterProposals()
	id := parts[2]

	if len(parts) == 4 && parts[3] == "status" && r.Method == http.MethodPut {
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		applied, err := counter.Transition(r.Context(), id, body.Status, sess.Role, sess.Subject)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		if !applied {
			writeError(w, http.StatusConflict, "IN_FLIGHT", "A transition for this counter-proposal is already in flight", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": body.Status})
		return
	}

	if len(parts) == 4 && parts[3] == "pdf" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"url": counter.PDFURL(id, sess.Role)})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		// Deletion is destructive and refused server-side once signatures
		// exist; the client must state intent explicitly.
		if r.URL.Query().Get("confirm") != "true" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "confirm=true is required to delete", nil)
			return
		}
		if err := counter.Delete(r.Context(), id, sess.Role, sess.Subject); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var valErr *lifecycle.ValidationError
	if errors.As(err, &valErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", valErr.Fields
	}
	if errors.Is(err, lifecycle.ErrNoSession) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, lifecycle.ErrStageLocked) {
		return http.StatusForbidden, "STAGE_LOCKED", "Stage is locked for this role", nil
	}
	if errors.Is(err, lifecycle.ErrNotUnlocked) {
		return http.StatusConflict, "STAGE_NOT_UNLOCKED", "Next stage is not unlocked yet", nil
	}
	if errors.Is(err, lifecycle.ErrSaveInFlight) {
		return http.StatusConflict, "IN_FLIGHT", "A save for this stage is already in flight", nil
	}

	if errors.Is(err, sharelink.ErrInvalidLink) || errors.Is(err, sharelink.ErrExpiredLink) {
		return http.StatusForbidden, "ACCESS_DENIED", "Share link is invalid or expired", nil
	}

	if errors.Is(err, upstream.ErrAccessDenied) {
		return http.StatusForbidden, "ACCESS_DENIED", "Access denied", nil
	}
	if errors.Is(err, upstream.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, counterproposal.ErrNonPositivePrice) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", map[string]string{
			"proposedPrice": err.Error(),
		}
	}
	if errors.Is(err, counterproposal.ErrInvalidTransition) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	var fieldErr *upstream.FieldErrors
	if errors.As(err, &fieldErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", fieldErr.Fields
	}
	var refusal *upstream.RefusalError
	if errors.As(err, &refusal) {
		return http.StatusConflict, "REFUSED", refusal.Reason, nil
	}
	var transient *upstream.TransientError
	if errors.As(err, &transient) {
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "A collaborator service is unavailable", nil
	}

	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
