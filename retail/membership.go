package retail

import (
	"context"
	"fmt"
	"strings"

	"github.com/ggoodman/mcp-retail-demo/mcp"
	"github.com/ggoodman/mcp-retail-demo/mcpservice"
	"github.com/ggoodman/mcp-retail-demo/widgets"
)

type offersArgs struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"description=Signed-in session id from the auth server"`
	Category  string `json:"category,omitempty" jsonschema:"description=Only return offers for this category"`
}

type membershipStatus struct {
	SessionID   string  `json:"sessionId"`
	Name        string  `json:"name"`
	Member      bool    `json:"member"`
	Tier        string  `json:"tier,omitempty"`
	MemberSince string  `json:"memberSince,omitempty"`
	Status      string  `json:"accountStatus,omitempty"`
	Offers      []Offer `json:"offers"`
}

// NewMembershipServer builds the Target Circle server.
func NewMembershipServer(deps Deps) *mcpservice.Server {
	deps = deps.withDefaults()
	m := &membershipTools{deps: deps}
	return newServer(deps,
		mcp.ImplementationInfo{Name: "target-circle-membership", Title: "Target Circle Membership", Version: "1.0.0"},
		"Look up Target Circle membership for a signed-in customer. Sign in with the auth server first.",
		[]mcpservice.StaticTool{
			mcpservice.NewTool("get-membership-status", m.status,
				mcpservice.WithToolTitle("Membership status"),
				mcpservice.WithToolDescription("Show the customer's Circle membership tier and account status."),
				mcpservice.WithToolInvocationStatus("Checking membership...", "Membership loaded"),
				mcpservice.WithToolOutputTemplate(widgets.URI(widgets.Membership)),
				mcpservice.WithToolAnnotations(mcp.ToolAnnotations{ReadOnlyHint: true}),
			),
			mcpservice.NewTool("list-member-offers", m.offers,
				mcpservice.WithToolTitle("Member offers"),
				mcpservice.WithToolDescription("List Circle offers available to the signed-in customer."),
				mcpservice.WithToolInvocationStatus("Finding offers...", "Offers found"),
				mcpservice.WithToolOutputTemplate(widgets.URI(widgets.Membership)),
				mcpservice.WithToolAnnotations(mcp.ToolAnnotations{ReadOnlyHint: true}),
			),
		},
		widgets.Membership,
	)
}

type membershipTools struct {
	deps Deps
}

func (m *membershipTools) status(ctx context.Context, _ mcpservice.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[sessionArgs]) error {
	s, err := requireAuthenticated(ctx, m.deps.Sessions, r.Args().SessionID)
	if err != nil {
		return err
	}
	ident := s.Identity
	st := membershipStatus{
		SessionID:   s.ID,
		Name:        ident.Name,
		Member:      ident.RewardsMember != "",
		Tier:        ident.RewardsMember,
		MemberSince: ident.MemberSince,
		Status:      ident.AccountStatus,
		Offers:      []Offer{},
	}
	text := fmt.Sprintf("%s is not a Circle member.", ident.Name)
	if st.Member {
		text = fmt.Sprintf("%s is a %s since %s.", ident.Name, ident.RewardsMember, ident.MemberSince)
	}
	return respond(w, text, st)
}

func (m *membershipTools) offers(ctx context.Context, _ mcpservice.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[offersArgs]) error {
	s, err := requireAuthenticated(ctx, m.deps.Sessions, r.Args().SessionID)
	if err != nil {
		return err
	}
	category := strings.TrimSpace(r.Args().Category)
	out := make([]Offer, 0, len(memberOffers))
	for _, o := range memberOffers {
		if category == "" || o.Category == "all" || strings.EqualFold(o.Category, category) {
			out = append(out, o)
		}
	}
	st := membershipStatus{
		SessionID:   s.ID,
		Name:        s.Identity.Name,
		Member:      s.Identity.RewardsMember != "",
		Tier:        s.Identity.RewardsMember,
		MemberSince: s.Identity.MemberSince,
		Status:      s.Identity.AccountStatus,
		Offers:      out,
	}
	return respond(w, fmt.Sprintf("%d offers available for %s.", len(out), s.Identity.Name), st)
}
