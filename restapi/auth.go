package restapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ggoodman/mcp-retail-demo/cart"
	"github.com/ggoodman/mcp-retail-demo/retail"
	"github.com/ggoodman/mcp-retail-demo/sessions"
)

const (
	msgMissingCredentials = "Please enter both email and password."
	msgCredentialsNeeded  = "Email and password are required"
	msgNotAuthenticated   = "Not authenticated. Please sign in first."
)

type credentials struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	SessionID string `json:"sessionId"`
}

// actionCredentials is the GPT Actions sign-in body. The OpenAPI document
// reflects its schema.
type actionCredentials struct {
	Email    string `json:"email" jsonschema:"description=Customer's email address"`
	Password string `json:"password" jsonschema:"description=Customer's password"`
}

type logoutRequest struct {
	SessionID string `json:"sessionId" jsonschema:"description=Session id returned by authenticateUser"`
}

type sessionSignIn struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

type signedIn struct {
	Success   bool               `json:"success"`
	User      *sessions.Identity `json:"user"`
	SessionID string             `json:"sessionId,omitempty"`
	Message   string             `json:"message,omitempty"`
}

type sessionState struct {
	Authenticated bool               `json:"authenticated"`
	User          *sessions.Identity `json:"user,omitempty"`
}

// signIn authenticates id with ident and drops any pending automatic
// sign-in so it cannot overwrite the identity later.
func (h *Handler) signIn(r *http.Request, id string, ident sessions.Identity) (*sessions.Session, error) {
	if h.auto != nil {
		h.auto.Cancel(id)
	}
	s, err := h.sessions.MarkAuthenticated(r.Context(), id, ident)
	if err != nil {
		return nil, err
	}
	h.log.InfoContext(r.Context(), "restapi.signin.ok", slog.String("session_id", id))
	return s, nil
}

// handleComponentAuthenticate completes the sign-in form shown by the
// authenticate tool. The form posts back an id the tool minted, so the
// session is created here when it does not exist yet.
func (h *Handler) handleComponentAuthenticate(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeBody(w, r, &in); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		writeFailure(w, http.StatusUnauthorized, msgMissingCredentials)
		return
	}
	if strings.TrimSpace(in.SessionID) == "" {
		writeFailure(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if _, err := h.sessions.Ensure(r.Context(), in.SessionID); err != nil {
		h.log.ErrorContext(r.Context(), "restapi.session.ensure.fail", slog.String("err", err.Error()))
		writeFailure(w, http.StatusInternalServerError, "could not start session")
		return
	}
	s, err := h.signIn(r, in.SessionID, retail.DemoCustomer("", "", h.clock.Now()))
	if err != nil {
		h.log.ErrorContext(r.Context(), "restapi.signin.fail", slog.String("err", err.Error()))
		writeFailure(w, http.StatusInternalServerError, "could not sign in")
		return
	}
	writeJSON(w, http.StatusOK, signedIn{Success: true, User: s.Identity})
}

// handleSessionAuthenticate signs in a session created by create-session.
// The supplied email and name replace the fixture values.
func (h *Handler) handleSessionAuthenticate(w http.ResponseWriter, r *http.Request) {
	var in sessionSignIn
	if err := decodeBody(w, r, &in); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(in.SessionID) == "" {
		writeFailure(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	_, err := h.signIn(r, in.SessionID, retail.DemoCustomer(in.Email, in.Name, h.clock.Now()))
	if errors.Is(err, sessions.ErrSessionNotFound) {
		writeFailure(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.log.ErrorContext(r.Context(), "restapi.signin.fail", slog.String("err", err.Error()))
		writeFailure(w, http.StatusInternalServerError, "could not sign in")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
		h.log.ErrorContext(r.Context(), "restapi.session.load.fail", slog.String("err", err.Error()))
		writeFailure(w, http.StatusInternalServerError, "could not load session")
		return
	}
	if s == nil || !s.Authenticated {
		writeJSON(w, http.StatusOK, sessionState{})
		return
	}
	writeJSON(w, http.StatusOK, sessionState{Authenticated: true, User: s.Identity})
}

func (h *Handler) handleActionsAuthenticate(w http.ResponseWriter, r *http.Request) {
	var in actionCredentials
	if err := decodeBody(w, r, &in); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		writeFailure(w, http.StatusBadRequest, msgCredentialsNeeded)
		return
	}
	created, err := h.sessions.Create(r.Context())
	if err != nil {
		h.log.ErrorContext(r.Context(), "restapi.session.create.fail", slog.String("err", err.Error()))
		writeFailure(w, http.StatusInternalServerError, "could not start session")
		return
	}
	s, err := h.signIn(r, created.ID, retail.DemoCustomer("", "", h.clock.Now()))
	if err != nil {
		h.log.ErrorContext(r.Context(), "restapi.signin.fail", slog.String("err", err.Error()))
		writeFailure(w, http.StatusInternalServerError, "could not sign in")
		return
	}
	writeJSON(w, http.StatusOK, signedIn{
		Success:   true,
		User:      s.Identity,
		SessionID: s.ID,
		Message:   "Successfully authenticated as " + s.Identity.Name,
	})
}

func (h *Handler) handleActionsProfile(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	var s *sessions.Session
	if id != "" {
		var err error
		s, err = h.sessions.Get(r.Context(), id)
		if err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
			h.log.ErrorContext(r.Context(), "restapi.session.load.fail", slog.String("err", err.Error()))
			writeFailure(w, http.StatusInternalServerError, "could not load session")
			return
		}
	}
	if s == nil || !s.Authenticated {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": msgNotAuthenticated})
		return
	}
	writeJSON(w, http.StatusOK, map[string]*sessions.Identity{"user": s.Identity})
}

func (h *Handler) handleActionsLogout(w http.ResponseWriter, r *http.Request) {
	var in logoutRequest
	if err := decodeBody(w, r, &in); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := retail.Logout(r.Context(), h.sessions, h.auto, in.SessionID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "restapi.logout.fail", slog.String("err", err.Error()))
		writeFailure(w, http.StatusInternalServerError, "could not sign out")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCartReset(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		http.NotFound(w, r)
		return
	}
	h.carts.Clear(r.Context(), cart.DemoKey)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Cart has been reset."})
}
