package retail

import (
	"time"

	"github.com/ggoodman/mcp-retail-demo/sessions"
)

// DemoCustomer returns the fixture identity every sign-in resolves to. A
// non-empty email or name replaces the fixture value.
func DemoCustomer(email, name string, at time.Time) sessions.Identity {
	ident := sessions.Identity{
		ID:              "CUST-89234",
		Email:           "lauren.bailey@gmail.com",
		Name:            "Lauren Bailey",
		Phone:           "(555) 123-4567",
		RewardsMember:   "Circle Member",
		MemberSince:     "2019",
		AccountStatus:   "Active",
		AuthenticatedAt: at.UTC(),
	}
	if email != "" {
		ident.Email = email
	}
	if name != "" {
		ident.Name = name
	}
	return ident
}

// Offer is a member deal.
type Offer struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	ExpiresOn   string `json:"expiresOn"`
}

var memberOffers = []Offer{
	{ID: "OFR-1001", Title: "20% off kitchen essentials", Description: "Save on cookware and small appliances", Category: "kitchen", ExpiresOn: "2025-12-31"},
	{ID: "OFR-1002", Title: "$10 off a $50 home purchase", Description: "Applies to decor and lighting", Category: "home", ExpiresOn: "2025-11-30"},
	{ID: "OFR-1003", Title: "Buy 2 get 1 free kids apparel", Description: "Mix and match Cat & Jack styles", Category: "kids", ExpiresOn: "2025-10-31"},
	{ID: "OFR-1004", Title: "5% off every day", Description: "Circle Card members save at checkout", Category: "all", ExpiresOn: ""},
}
