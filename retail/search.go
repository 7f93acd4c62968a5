package retail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ggoodman/mcp-retail-demo/catalog"
	"github.com/ggoodman/mcp-retail-demo/mcp"
	"github.com/ggoodman/mcp-retail-demo/mcpservice"
	"github.com/ggoodman/mcp-retail-demo/widgets"
)

const maxSearchLimit = 20

type searchArgs struct {
	Query string `json:"query" jsonschema:"description=What the customer is looking for"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results (default 5),minimum=1,maximum=20"`
}

type productArgs struct {
	ProductID string `json:"productId" jsonschema:"description=Product id from search-products"`
}

type searchResult struct {
	Query    string            `json:"query"`
	Count    int               `json:"count"`
	Products []catalog.Product `json:"products"`
}

type productResult struct {
	Product catalog.Product `json:"product"`
}

// NewSearchServer builds the product search server.
func NewSearchServer(deps Deps) *mcpservice.Server {
	deps = deps.withDefaults()
	s := &searchTools{deps: deps}
	return newServer(deps,
		mcp.ImplementationInfo{Name: "target-product-search", Title: "Target Product Search", Version: "1.0.0"},
		"Search the Target catalog. Use search-products to find items and get-product for details on one of them.",
		[]mcpservice.StaticTool{
			mcpservice.NewTool("search-products", s.search,
				mcpservice.WithToolTitle("Search products"),
				mcpservice.WithToolDescription("Search Target products by keyword."),
				mcpservice.WithToolInvocationStatus("Searching Target...", "Found products"),
				mcpservice.WithToolOutputTemplate(widgets.URI(widgets.Products)),
				mcpservice.WithToolAnnotations(mcp.ToolAnnotations{ReadOnlyHint: true}),
			),
			mcpservice.NewTool("get-product", s.product,
				mcpservice.WithToolTitle("Get product"),
				mcpservice.WithToolDescription("Get details for one product by id."),
				mcpservice.WithToolInvocationStatus("Loading product...", "Product loaded"),
				mcpservice.WithToolOutputTemplate(widgets.URI(widgets.Products)),
				mcpservice.WithToolAnnotations(mcp.ToolAnnotations{ReadOnlyHint: true}),
			),
		},
		widgets.Products,
	)
}

type searchTools struct {
	deps Deps
}

func (s *searchTools) search(ctx context.Context, _ mcpservice.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[searchArgs]) error {
	args := r.Args()
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return errors.New("query must not be empty")
	}
	limit := min(args.Limit, maxSearchLimit)
	if limit <= 0 {
		limit = catalog.DefaultLimit
	}
	products, err := s.deps.Catalog.Search(ctx, query, limit)
	if err != nil {
		return fmt.Errorf("searching for %q failed: %w", query, err)
	}
	if products == nil {
		products = []catalog.Product{}
	}
	text := fmt.Sprintf("Found %d products for %q.", len(products), query)
	if len(products) == 0 {
		text = fmt.Sprintf("No products matched %q.", query)
	}
	return respond(w, text, searchResult{Query: query, Count: len(products), Products: products})
}

func (s *searchTools) product(ctx context.Context, _ mcpservice.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[productArgs]) error {
	p, err := s.deps.Catalog.Product(ctx, r.Args().ProductID)
	if err != nil {
		return fmt.Errorf("product %s: %w", r.Args().ProductID, err)
	}
	return respond(w, fmt.Sprintf("%s, $%.2f", p.Title, p.Price), productResult{Product: p})
}
