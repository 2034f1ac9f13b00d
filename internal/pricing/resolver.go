package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platemate/order-core/internal/catalog"
	"github.com/platemate/order-core/pkg/apperrors"
	"github.com/platemate/order-core/pkg/models"
)

const defaultCurrency = "IDR"

// CatalogSource is the branch-catalog read this resolver depends on.
type CatalogSource interface {
	FetchBranchCatalog(ctx context.Context, restaurantID string) (*catalog.Catalog, error)
}

// Resolver turns a raw item list plus selected options into an authoritative
// pricing snapshot. The trustClientPricing flag controls whether a catalog
// transport failure downgrades to the client's own declared prices; it is a
// constructor argument, never an ambient environment read.
type Resolver struct {
	source             CatalogSource
	trustClientPricing bool
	defaultTaxRate     float64
	logger             *logrus.Logger
}

func NewResolver(source CatalogSource, trustClientPricing bool, defaultTaxRate float64, logger *logrus.Logger) *Resolver {
	if defaultTaxRate <= 0 {
		defaultTaxRate = 7.0
	}
	return &Resolver{
		source:             source,
		trustClientPricing: trustClientPricing,
		defaultTaxRate:     defaultTaxRate,
		logger:             logger,
	}
}

type Request struct {
	RestaurantID string        `json:"restaurant_id"`
	BranchID     string        `json:"branch_id,omitempty"`
	Items        []ItemRequest `json:"items"`
	Discounts    []Adjustment  `json:"discounts,omitempty"`
	Surcharges   []Adjustment  `json:"surcharges,omitempty"`
	Promotions   []Adjustment  `json:"promotions,omitempty"`
	ShippingFee  float64       `json:"shipping_fee,omitempty"`
	TipAmount    float64       `json:"tip_amount,omitempty"`
	Currency     string        `json:"currency,omitempty"`
}

type ItemRequest struct {
	ProductID       string            `json:"product_id"`
	BranchProductID string            `json:"branch_product_id,omitempty"`
	VariantID       string            `json:"variant_id,omitempty"`
	Quantity        int               `json:"quantity"`
	SelectedOptions []OptionSelection `json:"selected_options,omitempty"`

	// Client-declared prices, honored only on the fallback path.
	UnitPrice  float64  `json:"unit_price,omitempty"`
	TotalPrice float64  `json:"total_price,omitempty"`
	TaxRate    *float64 `json:"tax_rate,omitempty"`
}

type OptionSelection struct {
	GroupID   string `json:"group_id,omitempty"`
	GroupName string `json:"group_name,omitempty"`
	ItemID    string `json:"item_id,omitempty"`
	ItemName  string `json:"item_name,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
}

type Adjustment struct {
	Source string          `json:"source,omitempty"`
	Code   string          `json:"code,omitempty"`
	Amount float64         `json:"amount"`
	Meta   json.RawMessage `json:"meta,omitempty"`
}

// Snapshot is the fully resolved, currency-denominated breakdown of an order
// at creation time, frozen into the persisted items for audit immutability.
type Snapshot struct {
	Source       string         `json:"source"`
	Currency     string         `json:"currency"`
	Items        []ResolvedItem `json:"items"`
	Discounts    []Adjustment   `json:"discounts,omitempty"`
	Surcharges   []Adjustment   `json:"surcharges,omitempty"`
	Promotions   []Adjustment   `json:"promotions,omitempty"`
	TaxBreakdown []TaxLine      `json:"tax_breakdown"`

	ItemsSubtotal   float64 `json:"items_subtotal"`
	ItemsDiscount   float64 `json:"items_discount"`
	OrderDiscount   float64 `json:"order_discount"`
	SurchargesTotal float64 `json:"surcharges_total"`
	ShippingFee     float64 `json:"shipping_fee"`
	TaxTotal        float64 `json:"tax_total"`
	TipAmount       float64 `json:"tip_amount"`
	TotalAmount     float64 `json:"total_amount"`
}

type ResolvedItem struct {
	ProductID       string                   `json:"product_id"`
	BranchProductID string                   `json:"branch_product_id,omitempty"`
	VariantID       string                   `json:"variant_id,omitempty"`
	Quantity        int                      `json:"quantity"`
	UnitPrice       float64                  `json:"unit_price"`
	TotalPrice      float64                  `json:"total_price"`
	Options         []models.OrderItemOption `json:"options,omitempty"`
	Taxes           []TaxLine                `json:"taxes,omitempty"`
	Snapshot        json.RawMessage          `json:"snapshot,omitempty"`
}

type TaxLine struct {
	TemplateCode string  `json:"tax_template_code"`
	Rate         float64 `json:"tax_rate"`
	Amount       float64 `json:"tax_amount"`
}

// Resolve prices the request against the branch catalog. Business-rule
// failures (missing product, unavailable item, unmatched option) always
// propagate as ValidationError; only a catalog transport failure is eligible
// for the client-fallback path, gated on the trustClientPricing flag.
func (r *Resolver) Resolve(ctx context.Context, req *Request) (*Snapshot, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	cat, err := r.source.FetchBranchCatalog(ctx, req.RestaurantID)
	if err != nil {
		r.logger.WithError(err).WithField("restaurant_id", req.RestaurantID).
			Warn("Branch catalog fetch failed")

		if !r.trustClientPricing {
			return nil, apperrors.NewPricingUnavailable("pricing could not be confirmed", err)
		}
		return r.resolveFromClient(req)
	}

	return r.resolveFromCatalog(cat, req)
}

func validateRequest(req *Request) error {
	if req == nil || req.RestaurantID == "" {
		return apperrors.NewValidation("restaurant_id is required")
	}
	if len(req.Items) == 0 {
		return apperrors.NewValidation("order must contain at least one item")
	}
	for i, item := range req.Items {
		if item.ProductID == "" && item.BranchProductID == "" {
			return apperrors.NewValidation("items[%d]: product_id or branch_product_id is required", i)
		}
		if item.Quantity < 1 {
			return apperrors.NewValidation("items[%d]: quantity must be at least 1", i)
		}
	}
	return nil
}

func (r *Resolver) resolveFromCatalog(cat *catalog.Catalog, req *Request) (*Snapshot, error) {
	branch, ok := cat.FindBranch(req.BranchID)
	if !ok {
		return nil, apperrors.NewValidation("branch %q not found for restaurant %q", req.BranchID, req.RestaurantID)
	}

	snapshot := r.newSnapshot(req, "catalog")

	for i := range req.Items {
		resolved, err := r.resolveItem(cat, branch, &req.Items[i])
		if err != nil {
			return nil, err
		}
		snapshot.Items = append(snapshot.Items, *resolved)
	}

	r.finalize(snapshot, req)

	r.logger.WithFields(logrus.Fields{
		"restaurant_id": req.RestaurantID,
		"branch_id":     branch.ID,
		"items":         len(snapshot.Items),
		"total_amount":  snapshot.TotalAmount,
	}).Info("Pricing resolved from branch catalog")

	return snapshot, nil
}

func (r *Resolver) resolveItem(cat *catalog.Catalog, branch *catalog.Branch, item *ItemRequest) (*ResolvedItem, error) {
	product := findBranchProduct(branch, item)
	if product == nil {
		return nil, apperrors.NewValidation("product %q not found in branch %q", productRef(item), branch.ID)
	}
	if !product.Available || !product.IsVisible {
		return nil, apperrors.NewValidation("product %q is not available", product.Name)
	}

	var options []models.OrderItemOption
	var addonPerUnit float64

	for _, sel := range item.SelectedOptions {
		group := matchOptionGroup(product.Options, sel)
		if group == nil {
			return nil, apperrors.NewValidation("option group %q not found for product %q", optionGroupRef(sel), product.Name)
		}
		optItem := matchOptionItem(group.Items, sel)
		if optItem == nil {
			return nil, apperrors.NewValidation("option %q not found in group %q", optionItemRef(sel), group.Name)
		}

		qty := sel.Quantity
		if qty < 1 {
			qty = 1
		}
		contribution := optItem.PriceDelta * float64(qty)
		addonPerUnit += contribution

		options = append(options, models.OrderItemOption{
			OptionGroupName: group.Name,
			OptionItemName:  optItem.Name,
			PriceDelta:      round2(contribution),
		})
	}

	unitPrice := round2(product.BasePrice + addonPerUnit)
	totalPrice := round2(unitPrice * float64(item.Quantity))

	rate := r.defaultTaxRate
	templateCode := "default"
	if product.TaxRate != nil {
		rate = *product.TaxRate
	}
	if product.TaxTemplateCode != "" {
		templateCode = product.TaxTemplateCode
	}
	tax := TaxLine{
		TemplateCode: templateCode,
		Rate:         rate,
		Amount:       round2(totalPrice * rate / 100),
	}

	frozen, _ := json.Marshal(map[string]interface{}{
		"product_id":        product.ID,
		"branch_product_id": product.BranchProductID,
		"product_name":      product.Name,
		"restaurant_id":     cat.Restaurant.ID,
		"restaurant_name":   cat.Restaurant.Name,
		"branch_id":         branch.ID,
		"branch_name":       branch.Name,
		"base_price":        product.BasePrice,
		"tax_rate":          rate,
		"priced_at":         time.Now().UTC().Format(time.RFC3339),
	})

	return &ResolvedItem{
		ProductID:       product.ID,
		BranchProductID: product.BranchProductID,
		VariantID:       item.VariantID,
		Quantity:        item.Quantity,
		UnitPrice:       unitPrice,
		TotalPrice:      totalPrice,
		Options:         options,
		Taxes:           []TaxLine{tax},
		Snapshot:        frozen,
	}, nil
}

// resolveFromClient is the degraded path, entered only when the catalog fetch
// itself failed transport-wise and the flag permits trusting client prices.
func (r *Resolver) resolveFromClient(req *Request) (*Snapshot, error) {
	snapshot := r.newSnapshot(req, "client")

	for i, item := range req.Items {
		// Without a client price there is nothing to fall back on: the
		// order is rejected because pricing could not be confirmed, the
		// same failure class as the catalog being unreachable.
		if item.UnitPrice <= 0 {
			return nil, apperrors.NewPricingUnavailable(
				fmt.Sprintf("items[%d]: pricing could not be confirmed without a client unit_price", i), nil)
		}

		totalPrice := item.TotalPrice
		if totalPrice <= 0 {
			totalPrice = round2(item.UnitPrice * float64(item.Quantity))
		}

		rate := r.defaultTaxRate
		if item.TaxRate != nil {
			rate = *item.TaxRate
		}
		tax := TaxLine{
			TemplateCode: "default",
			Rate:         rate,
			Amount:       round2(totalPrice * rate / 100),
		}

		var options []models.OrderItemOption
		for _, sel := range item.SelectedOptions {
			options = append(options, models.OrderItemOption{
				OptionGroupName: sel.GroupName,
				OptionItemName:  sel.ItemName,
				PriceDelta:      0,
			})
		}

		frozen, _ := json.Marshal(map[string]interface{}{
			"product_id":        item.ProductID,
			"branch_product_id": item.BranchProductID,
			"restaurant_id":     req.RestaurantID,
			"branch_id":         req.BranchID,
			"unit_price":        item.UnitPrice,
			"tax_rate":          rate,
			"pricing_source":    "client",
			"priced_at":         time.Now().UTC().Format(time.RFC3339),
		})

		snapshot.Items = append(snapshot.Items, ResolvedItem{
			ProductID:       item.ProductID,
			BranchProductID: item.BranchProductID,
			VariantID:       item.VariantID,
			Quantity:        item.Quantity,
			UnitPrice:       round2(item.UnitPrice),
			TotalPrice:      round2(totalPrice),
			Options:         options,
			Taxes:           []TaxLine{tax},
			Snapshot:        frozen,
		})
	}

	r.finalize(snapshot, req)

	r.logger.WithFields(logrus.Fields{
		"restaurant_id": req.RestaurantID,
		"total_amount":  snapshot.TotalAmount,
	}).Warn("Pricing resolved from client-declared values")

	return snapshot, nil
}

func (r *Resolver) newSnapshot(req *Request, source string) *Snapshot {
	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	return &Snapshot{
		Source:     source,
		Currency:   currency,
		Discounts:  normalizeAdjustments(req.Discounts),
		Surcharges: normalizeAdjustments(req.Surcharges),
		Promotions: normalizeAdjustments(req.Promotions),
	}
}

// finalize aggregates line taxes into the order breakdown and computes the
// totals invariant:
// total = subtotal - items_discount - order_discount + surcharges + shipping + tax + tip.
func (r *Resolver) finalize(snapshot *Snapshot, req *Request) {
	var subtotal, taxTotal float64
	for _, item := range snapshot.Items {
		subtotal += item.TotalPrice
		for _, tax := range item.Taxes {
			taxTotal += tax.Amount
			snapshot.TaxBreakdown = mergeTaxLine(snapshot.TaxBreakdown, tax)
		}
	}

	var orderDiscount, surcharges, itemsDiscount float64
	for _, adj := range snapshot.Discounts {
		orderDiscount += adj.Amount
	}
	for _, adj := range snapshot.Surcharges {
		surcharges += adj.Amount
	}
	// Promotions reduce the item side of the ledger.
	for _, adj := range snapshot.Promotions {
		itemsDiscount += adj.Amount
	}

	snapshot.ItemsSubtotal = round2(subtotal)
	snapshot.ItemsDiscount = round2(itemsDiscount)
	snapshot.OrderDiscount = round2(orderDiscount)
	snapshot.SurchargesTotal = round2(surcharges)
	snapshot.ShippingFee = round2(req.ShippingFee)
	snapshot.TaxTotal = round2(taxTotal)
	snapshot.TipAmount = round2(req.TipAmount)
	snapshot.TotalAmount = round2(snapshot.ItemsSubtotal - snapshot.ItemsDiscount -
		snapshot.OrderDiscount + snapshot.SurchargesTotal + snapshot.ShippingFee +
		snapshot.TaxTotal + snapshot.TipAmount)
}

func findBranchProduct(branch *catalog.Branch, item *ItemRequest) *catalog.BranchProduct {
	if item.BranchProductID != "" {
		for i := range branch.Products {
			if branch.Products[i].BranchProductID == item.BranchProductID {
				return &branch.Products[i]
			}
		}
	}
	if item.ProductID != "" {
		for i := range branch.Products {
			if branch.Products[i].ID == item.ProductID {
				return &branch.Products[i]
			}
		}
	}
	return nil
}

// matchOptionGroup scans by id first, then by case-insensitive name.
func matchOptionGroup(groups []catalog.OptionGroup, sel OptionSelection) *catalog.OptionGroup {
	if sel.GroupID != "" {
		for i := range groups {
			if groups[i].ID == sel.GroupID {
				return &groups[i]
			}
		}
	}
	if sel.GroupName != "" {
		for i := range groups {
			if strings.EqualFold(groups[i].Name, sel.GroupName) {
				return &groups[i]
			}
		}
	}
	return nil
}

func matchOptionItem(items []catalog.OptionItem, sel OptionSelection) *catalog.OptionItem {
	if sel.ItemID != "" {
		for i := range items {
			if items[i].ID == sel.ItemID {
				return &items[i]
			}
		}
	}
	if sel.ItemName != "" {
		for i := range items {
			if strings.EqualFold(items[i].Name, sel.ItemName) {
				return &items[i]
			}
		}
	}
	return nil
}

// normalizeAdjustments drops zero-amount entries.
func normalizeAdjustments(in []Adjustment) []Adjustment {
	var out []Adjustment
	for _, adj := range in {
		if adj.Amount == 0 {
			continue
		}
		adj.Amount = round2(adj.Amount)
		out = append(out, adj)
	}
	return out
}

func mergeTaxLine(lines []TaxLine, tax TaxLine) []TaxLine {
	for i := range lines {
		if lines[i].TemplateCode == tax.TemplateCode && lines[i].Rate == tax.Rate {
			lines[i].Amount = round2(lines[i].Amount + tax.Amount)
			return lines
		}
	}
	return append(lines, tax)
}

func productRef(item *ItemRequest) string {
	if item.BranchProductID != "" {
		return item.BranchProductID
	}
	return item.ProductID
}

func optionGroupRef(sel OptionSelection) string {
	if sel.GroupID != "" {
		return sel.GroupID
	}
	return sel.GroupName
}

func optionItemRef(sel OptionSelection) string {
	if sel.ItemID != "" {
		return sel.ItemID
	}
	return sel.ItemName
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
