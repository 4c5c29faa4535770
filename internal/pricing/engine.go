package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the fixed-point precision of every amount
const MoneyPlaces = 2

// Catalog is the product lookup contract consumed by the engine
type Catalog interface {
	ProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
}

// Item is a requested product and quantity
type Item struct {
	ProductID int64 `json:"productId" binding:"required"`
	Quantity  int   `json:"qty" binding:"required"`
}

// Line is a priced item
type Line struct {
	ProductID int64
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	LineTotal decimal.Decimal
}

// Quote is the result of pricing a request
type Quote struct {
	Lines       []Line
	Subtotal    decimal.Decimal
	ShippingFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// ProductIDs returns the product ids of the quoted lines in order
func (q *Quote) ProductIDs() []int64 {
	ids := make([]int64, len(q.Lines))
	for i, l := range q.Lines {
		ids[i] = l.ProductID
	}
	return ids
}

// Policy computes an adjustment from the priced lines and subtotal
type Policy func(lines []Line, subtotal decimal.Decimal) decimal.Decimal

// ZeroPolicy charges nothing
func ZeroPolicy([]Line, decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}

// Engine prices orders from catalog truth
type Engine struct {
	shipping Policy
	discount Policy
}

// Option configures an Engine
type Option func(*Engine)

// WithShipping sets the shipping fee policy
func WithShipping(p Policy) Option {
	return func(e *Engine) { e.shipping = p }
}

// WithDiscount sets the discount policy
func WithDiscount(p Policy) Option {
	return func(e *Engine) { e.discount = p }
}

// NewEngine creates a pricing engine with zero shipping and discount
func NewEngine(opts ...Option) *Engine {
	e := &Engine{shipping: ZeroPolicy, discount: ZeroPolicy}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Quote prices items against the catalog. Any missing or inactive product
// fails the whole request; nothing is cached between calls.
func (e *Engine) Quote(ctx context.Context, catalog Catalog, items []Item) (*Quote, error) {
	merged, err := mergeItems(items)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(merged))
	for i, item := range merged {
		ids[i] = item.ProductID
	}

	products, err := catalog.ProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	byID := make(map[int64]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	var unavailable []string
	for _, id := range ids {
		if p, ok := byID[id]; !ok || !p.Active {
			unavailable = append(unavailable, fmt.Sprint(id))
		}
	}
	if len(unavailable) > 0 {
		sort.Strings(unavailable)
		return nil, apperr.NotAvailable("products not available: %s", strings.Join(unavailable, ","))
	}

	quote := &Quote{Lines: make([]Line, 0, len(merged)), Subtotal: decimal.Zero}
	for _, item := range merged {
		p := byID[item.ProductID]
		unit := p.Price.Round(MoneyPlaces)
		lineTotal := unit.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(MoneyPlaces)
		quote.Lines = append(quote.Lines, Line{
			ProductID: p.ID,
			SKU:       p.SKU,
			Name:      p.Name,
			UnitPrice: unit,
			Quantity:  item.Quantity,
			LineTotal: lineTotal,
		})
		quote.Subtotal = quote.Subtotal.Add(lineTotal)
	}

	quote.ShippingFee = e.shipping(quote.Lines, quote.Subtotal).Round(MoneyPlaces)
	quote.Discount = e.discount(quote.Lines, quote.Subtotal).Round(MoneyPlaces)
	if quote.ShippingFee.IsNegative() || quote.Discount.IsNegative() {
		return nil, fmt.Errorf("pricing policy returned a negative adjustment")
	}
	// discount never exceeds what is owed
	if gross := quote.Subtotal.Add(quote.ShippingFee); quote.Discount.GreaterThan(gross) {
		quote.Discount = gross
	}
	quote.Total = quote.Subtotal.Sub(quote.Discount).Add(quote.ShippingFee)

	return quote, nil
}

// mergeItems validates items and folds repeated products into one line
func mergeItems(items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("order must contain at least one item")
	}

	index := make(map[int64]int, len(items))
	merged := make([]Item, 0, len(items))
	for _, item := range items {
		if item.ProductID <= 0 {
			return nil, apperr.Validation("invalid product id: %d", item.ProductID)
		}
		if item.Quantity <= 0 {
			return nil, apperr.Validation("quantity for product %d must be positive", item.ProductID)
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}
