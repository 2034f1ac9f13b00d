package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Catalog is the branch-scoped product view the pricing resolver works from.
type Catalog struct {
	Restaurant Restaurant `json:"restaurant"`
	Branches   []Branch   `json:"branches"`
}

type Restaurant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Branch struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Products []BranchProduct `json:"products"`
}

// BranchProduct is the branch-scoped projection of a catalog product,
// including price overrides and availability flags.
type BranchProduct struct {
	ID              string        `json:"id"`
	BranchProductID string        `json:"branch_product_id"`
	Name            string        `json:"name"`
	BasePrice       float64       `json:"base_price"`
	TaxRate         *float64      `json:"tax_rate,omitempty"`
	TaxTemplateCode string        `json:"tax_template_code,omitempty"`
	Available       bool          `json:"available"`
	IsVisible       bool          `json:"is_visible"`
	Options         []OptionGroup `json:"options,omitempty"`
}

type OptionGroup struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Items []OptionItem `json:"items"`
}

type OptionItem struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	PriceDelta float64 `json:"price_delta"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
	timeout    time.Duration
}

func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:  logger,
		timeout: timeout,
	}
}

// FetchBranchCatalog loads the catalog for one restaurant. The request is
// bound to the caller's context so an abandoned request stops server-side
// work instead of merely being abandoned client-side.
func (c *Client) FetchBranchCatalog(ctx context.Context, restaurantID string) (*Catalog, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/restaurants/%s/catalog", c.baseURL, restaurantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach catalog service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog service returned error status: %d", resp.StatusCode)
	}

	var cat Catalog
	if err := json.NewDecoder(resp.Body).Decode(&cat); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"restaurant_id": restaurantID,
		"branches":      len(cat.Branches),
	}).Info("Fetched branch catalog")

	return &cat, nil
}

// FindBranch returns the branch with the given id, or the first branch when
// no id is supplied.
func (c *Catalog) FindBranch(branchID string) (*Branch, bool) {
	if branchID == "" {
		if len(c.Branches) == 0 {
			return nil, false
		}
		return &c.Branches[0], true
	}
	for i := range c.Branches {
		if c.Branches[i].ID == branchID {
			return &c.Branches[i], true
		}
	}
	return nil, false
}
