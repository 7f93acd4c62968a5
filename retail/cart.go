package retail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/ggoodman/mcp-retail-demo/cart"
	"github.com/ggoodman/mcp-retail-demo/mcp"
	"github.com/ggoodman/mcp-retail-demo/mcpservice"
	"github.com/ggoodman/mcp-retail-demo/widgets"
	"github.com/google/uuid"
)

type addToCartArgs struct {
	ProductID string `json:"productId" jsonschema:"description=Product id from search-products"`
	Quantity  int    `json:"quantity,omitempty" jsonschema:"description=How many to add (default 1),minimum=1"`
}

type noArgs struct{}

type checkoutArgs struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"description=Signed-in session id from the auth server"`
}

type cartView struct {
	Items  []cart.Item `json:"items"`
	Count  int         `json:"count"`
	Total  float64     `json:"total"`
	Policy string      `json:"policy"`
}

func viewOf(c cart.Cart, p cart.Policy) cartView {
	items := c.Items
	if items == nil {
		items = []cart.Item{}
	}
	return cartView{Items: items, Count: c.Count(), Total: roundCents(c.Total()), Policy: p.String()}
}

func roundCents(v float64) float64 { return math.Round(v*100) / 100 }

type order struct {
	OrderID  string      `json:"orderId"`
	Items    []cart.Item `json:"items"`
	Total    float64     `json:"total"`
	Customer struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"customer"`
	Message string `json:"message"`
}

// NewCartServer builds the cart and checkout server.
func NewCartServer(deps Deps) *mcpservice.Server {
	deps = deps.withDefaults()
	c := &cartTools{deps: deps}
	addDesc := "Add a product to the cart."
	if deps.Carts.Policy() == cart.SingleItem {
		addDesc += " The demo cart holds one product at a time, so adding replaces the current item."
	}
	return newServer(deps,
		mcp.ImplementationInfo{Name: "target-cart-checkout", Title: "Target Cart & Checkout", Version: "1.0.0"},
		"Manage the shopping cart. Add products found with the search server, review the cart, then check out with a signed-in sessionId.",
		[]mcpservice.StaticTool{
			mcpservice.NewTool("add-to-cart", c.add,
				mcpservice.WithToolTitle("Add to cart"),
				mcpservice.WithToolDescription(addDesc),
				mcpservice.WithToolInvocationStatus("Adding to cart...", "Added to cart"),
				mcpservice.WithToolOutputTemplate(widgets.URI(widgets.Cart)),
			),
			mcpservice.NewTool("view-cart", c.view,
				mcpservice.WithToolTitle("View cart"),
				mcpservice.WithToolDescription("Show the items currently in the cart."),
				mcpservice.WithToolInvocationStatus("Loading cart...", "Cart loaded"),
				mcpservice.WithToolOutputTemplate(widgets.URI(widgets.Cart)),
				mcpservice.WithToolAnnotations(mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true}),
			),
			mcpservice.NewTool("checkout", c.checkout,
				mcpservice.WithToolTitle("Check out"),
				mcpservice.WithToolDescription("Place an order for the cart contents. Requires a signed-in sessionId."),
				mcpservice.WithToolInvocationStatus("Placing order...", "Order placed"),
				mcpservice.WithToolOutputTemplate(widgets.URI(widgets.Cart)),
			),
			mcpservice.NewTool("reset-cart", c.reset,
				mcpservice.WithToolTitle("Reset cart"),
				mcpservice.WithToolDescription("Empty the demo cart."),
				mcpservice.WithToolInvocationStatus("Resetting cart...", "Cart reset"),
				mcpservice.WithToolAnnotations(mcp.ToolAnnotations{DestructiveHint: true, IdempotentHint: true}),
			),
		},
		widgets.Cart,
	)
}

type cartTools struct {
	deps Deps
}

func (c *cartTools) add(ctx context.Context, _ mcpservice.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[addToCartArgs]) error {
	args := r.Args()
	p, err := c.deps.Catalog.Product(ctx, args.ProductID)
	if err != nil {
		return fmt.Errorf("product %s: %w", args.ProductID, err)
	}
	got, err := c.deps.Carts.Add(ctx, cart.DemoKey, cart.Item{
		ID:       p.ID,
		Title:    p.Title,
		Price:    p.Price,
		Image:    p.Image,
		Quantity: args.Quantity,
	})
	if err != nil {
		return err
	}
	return respond(w, fmt.Sprintf("Added %s to the cart.", p.Title), viewOf(got, c.deps.Carts.Policy()))
}

func (c *cartTools) view(ctx context.Context, _ mcpservice.Session, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[noArgs]) error {
	got := c.deps.Carts.Get(ctx, cart.DemoKey)
	text := "The cart is empty."
	if len(got.Items) > 0 {
		titles := make([]string, len(got.Items))
		for i, it := range got.Items {
			titles[i] = fmt.Sprintf("%s x%d", it.Title, it.Quantity)
		}
		text = fmt.Sprintf("Cart: %s. Total $%.2f.", strings.Join(titles, ", "), got.Total())
	}
	return respond(w, text, viewOf(got, c.deps.Carts.Policy()))
}

func (c *cartTools) checkout(ctx context.Context, _ mcpservice.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[checkoutArgs]) error {
	s, err := requireAuthenticated(ctx, c.deps.Sessions, r.Args().SessionID)
	if err != nil {
		return err
	}
	placed := c.deps.Carts.Clear(ctx, cart.DemoKey)
	if len(placed.Items) == 0 {
		return errors.New("the cart is empty. Add a product before checking out")
	}

	o := order{
		OrderID: "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10]),
		Items:   placed.Items,
		Total:   roundCents(placed.Total()),
	}
	o.Customer.Name = s.Identity.Name
	o.Customer.Email = s.Identity.Email
	o.Message = fmt.Sprintf("Order %s placed for %s. A confirmation was sent to %s.", o.OrderID, o.Customer.Name, o.Customer.Email)
	c.deps.Logger.InfoContext(ctx, "retail.checkout.ok", slog.String("order_id", o.OrderID), slog.String("session_id", s.ID))
	return respond(w, o.Message, o)
}

func (c *cartTools) reset(ctx context.Context, _ mcpservice.Session, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[noArgs]) error {
	c.deps.Carts.Clear(ctx, cart.DemoKey)
	return respond(w, "The cart has been reset.", viewOf(cart.Cart{Key: cart.DemoKey}, c.deps.Carts.Policy()))
}
