package retail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-retail-demo/mcp"
	"github.com/ggoodman/mcp-retail-demo/mcpservice"
	"github.com/ggoodman/mcp-retail-demo/sessions"
	"github.com/ggoodman/mcp-retail-demo/widgets"
)

type createSessionArgs struct{}

type authenticateArgs struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"description=Session to sign in. A new id is minted when omitted."`
	Message   string `json:"message,omitempty" jsonschema:"description=Optional message shown above the sign-in form"`
}

type sessionArgs struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"description=Session id returned by create-session"`
}

type sessionCreated struct {
	SessionID     string `json:"sessionId"`
	Authenticated bool   `json:"authenticated"`
	Message       string `json:"message"`
}

type authComponent struct {
	Type         string `json:"type"`
	ComponentURL string `json:"componentUrl"`
	APIBase      string `json:"apiBase"`
	SessionID    string `json:"sessionId"`
	Message      string `json:"message"`
	Instructions string `json:"instructions"`
}

// sessionStatus is the get-status payload. It carries no timestamps so
// repeated calls on an unchanged session are byte-identical.
type sessionStatus struct {
	SessionID     string `json:"sessionId"`
	Found         bool   `json:"found"`
	Authenticated bool   `json:"authenticated"`
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	RewardsMember string `json:"rewardsMember,omitempty"`
	Message       string `json:"message"`
}

type profile struct {
	Authenticated bool               `json:"authenticated"`
	User          *sessions.Identity `json:"user,omitempty"`
	SessionID     string             `json:"sessionId,omitempty"`
	Message       string             `json:"message,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// LogoutResult is returned by Logout.
type LogoutResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NewAuthServer builds the sign-in server.
func NewAuthServer(deps Deps) *mcpservice.Server {
	deps = deps.withDefaults()
	a := &authTools{deps: deps}
	return newServer(deps,
		mcp.ImplementationInfo{Name: "target-customer-auth", Title: "Target Customer Authentication", Version: "1.0.0"},
		"Sign a Target customer in. Call create-session first, then authenticate with the returned sessionId, then get-status to confirm the sign-in completed.",
		[]mcpservice.StaticTool{
			mcpservice.NewTool("create-session", a.createSession,
				mcpservice.WithToolTitle("Create session"),
				mcpservice.WithToolDescription("Start a new sign-in session. Always call this first and pass the returned sessionId to the other tools."),
				mcpservice.WithToolInvocationStatus("Starting session...", "Session started"),
			),
			mcpservice.NewTool("authenticate", a.authenticate,
				mcpservice.WithToolTitle("Sign in"),
				mcpservice.WithToolDescription("Display the Target sign-in form for a session. After the customer signs in, call get-status with the same sessionId."),
				mcpservice.WithToolInvocationStatus("Opening sign-in...", "Sign-in ready"),
				mcpservice.WithToolOutputTemplate(widgets.URI(widgets.Auth)),
			),
			mcpservice.NewTool("get-status", a.getStatus,
				mcpservice.WithToolTitle("Check sign-in status"),
				mcpservice.WithToolDescription("Report whether a session has been signed in and for whom."),
				mcpservice.WithToolInvocationStatus("Checking status...", "Status checked"),
				mcpservice.WithToolAnnotations(mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true}),
			),
			mcpservice.NewTool("get-profile", a.getProfile,
				mcpservice.WithToolTitle("Get profile"),
				mcpservice.WithToolDescription("Get the signed-in customer's profile including Circle rewards status."),
				mcpservice.WithToolInvocationStatus("Loading profile...", "Profile loaded"),
				mcpservice.WithToolAnnotations(mcp.ToolAnnotations{ReadOnlyHint: true}),
			),
			mcpservice.NewTool("logout", a.logout,
				mcpservice.WithToolTitle("Sign out"),
				mcpservice.WithToolDescription("Sign the customer out and end their session."),
				mcpservice.WithToolInvocationStatus("Signing out...", "Signed out"),
				mcpservice.WithToolAnnotations(mcp.ToolAnnotations{DestructiveHint: true}),
			),
		},
		widgets.Auth,
	)
}

type authTools struct {
	deps Deps
}

func (a *authTools) createSession(ctx context.Context, _ mcpservice.Session, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[createSessionArgs]) error {
	s, err := a.deps.Sessions.Create(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	msg := "Session created. Call authenticate with this sessionId to show the sign-in form."
	if a.deps.AutoAuth != nil && a.deps.AutoAuthDelay > 0 {
		a.deps.AutoAuth.Schedule(s.ID, a.deps.AutoAuthDelay, DemoCustomer("", "", time.Time{}))
		msg = fmt.Sprintf("Session created. Sign-in completes automatically in %s; call get-status to check.", a.deps.AutoAuthDelay)
	}
	a.deps.Logger.InfoContext(ctx, "retail.session.create", slog.String("session_id", s.ID))
	return respond(w, fmt.Sprintf("Session %s created.", s.ID), sessionCreated{SessionID: s.ID, Message: msg})
}

func (a *authTools) authenticate(ctx context.Context, _ mcpservice.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[authenticateArgs]) error {
	args := r.Args()
	id := args.SessionID
	if id == "" {
		// The sign-in form creates the session when it posts back.
		id = sessions.NewID()
	} else if _, err := requireSession(ctx, a.deps.Sessions, id); err != nil {
		return err
	}
	msg := args.Message
	if msg == "" {
		msg = "Sign in to your Target account"
	}
	out := authComponent{
		Type:         "component",
		ComponentURL: a.deps.BaseURL + "/components/" + widgets.Auth + "?sessionId=" + id,
		APIBase:      a.deps.BaseURL,
		SessionID:    id,
		Message:      msg,
		Instructions: "A sign-in form will be displayed. After the customer signs in, call get-status with the sessionId.",
	}
	return respond(w, msg, out)
}

func (a *authTools) getStatus(ctx context.Context, _ mcpservice.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[sessionArgs]) error {
	id := r.Args().SessionID
	if id == "" {
		return errSessionRequired
	}
	s, err := a.deps.Sessions.Get(ctx, id)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		st := sessionStatus{SessionID: id, Message: "Session not found. Call create-session to start a new session."}
		return respond(w, st.Message, st)
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	st := sessionStatus{SessionID: s.ID, Found: true, Authenticated: s.Authenticated}
	if s.Authenticated {
		st.Name = s.Identity.Name
		st.Email = s.Identity.Email
		st.RewardsMember = s.Identity.RewardsMember
		st.Message = "Authenticated as " + s.Identity.Name
	} else {
		st.Message = "Not signed in yet. Call authenticate to show the sign-in form."
	}
	return respond(w, st.Message, st)
}

func (a *authTools) getProfile(ctx context.Context, _ mcpservice.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[sessionArgs]) error {
	id := r.Args().SessionID
	if id == "" {
		return errSessionRequired
	}
	s, err := a.deps.Sessions.Get(ctx, id)
	if err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
		return fmt.Errorf("load session: %w", err)
	}
	if s == nil || !s.Authenticated {
		p := profile{SessionID: id, Error: errNotAuthenticated.Error()}
		return respond(w, p.Error, p)
	}
	p := profile{Authenticated: true, User: s.Identity, Message: "Authenticated as " + s.Identity.Name}
	return respond(w, p.Message, p)
}

func (a *authTools) logout(ctx context.Context, _ mcpservice.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[sessionArgs]) error {
	res, err := Logout(ctx, a.deps.Sessions, a.deps.AutoAuth, r.Args().SessionID)
	if err != nil {
		return err
	}
	return respond(w, res.Message, res)
}

// Logout ends a session and cancels any pending automatic sign-in for it.
// The REST surface shares it with the logout tool.
func Logout(ctx context.Context, store sessions.Authenticator, auto *sessions.AutoAuthenticator, id string) (LogoutResult, error) {
	none := LogoutResult{Message: "No active session found."}
	if id == "" {
		return none, nil
	}
	if auto != nil {
		auto.Cancel(id)
	}
	s, err := store.Get(ctx, id)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		return none, nil
	}
	if err != nil {
		return LogoutResult{}, fmt.Errorf("load session: %w", err)
	}
	if _, err := store.Delete(ctx, id); err != nil {
		return LogoutResult{}, fmt.Errorf("delete session: %w", err)
	}
	name := "Guest"
	if s.Identity != nil {
		name = s.Identity.Name
	}
	return LogoutResult{Success: true, Message: name + " has been signed out successfully."}, nil
}
