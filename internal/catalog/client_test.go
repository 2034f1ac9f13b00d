package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

const catalogBody = `{
	"restaurant": {"id": "rest-1", "name": "Warung Tengah"},
	"branches": [
		{
			"id": "branch-1",
			"name": "Central",
			"products": [
				{
					"id": "prod-1",
					"branch_product_id": "bp-1",
					"name": "Nasi Goreng",
					"base_price": 75000,
					"tax_rate": 7,
					"available": true,
					"is_visible": true
				}
			]
		},
		{"id": "branch-2", "name": "North", "products": []}
	]
}`

func TestFetchBranchCatalog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/restaurants/rest-1/catalog", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(catalogBody))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, testLogger())
	cat, err := client.FetchBranchCatalog(context.Background(), "rest-1")
	require.NoError(t, err)

	assert.Equal(t, "rest-1", cat.Restaurant.ID)
	require.Len(t, cat.Branches, 2)
	require.Len(t, cat.Branches[0].Products, 1)
	product := cat.Branches[0].Products[0]
	assert.Equal(t, 75000.0, product.BasePrice)
	require.NotNil(t, product.TaxRate)
	assert.Equal(t, 7.0, *product.TaxRate)
}

func TestFetchBranchCatalogErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, testLogger())
	_, err := client.FetchBranchCatalog(context.Background(), "rest-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error status")
}

func TestFetchBranchCatalogHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Minute, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.FetchBranchCatalog(ctx, "rest-1")
	require.Error(t, err)
}

func TestFindBranch(t *testing.T) {
	cat := &Catalog{Branches: []Branch{{ID: "branch-1"}, {ID: "branch-2"}}}

	branch, ok := cat.FindBranch("branch-2")
	require.True(t, ok)
	assert.Equal(t, "branch-2", branch.ID)

	// Empty id falls back to the first branch.
	branch, ok = cat.FindBranch("")
	require.True(t, ok)
	assert.Equal(t, "branch-1", branch.ID)

	_, ok = cat.FindBranch("branch-9")
	assert.False(t, ok)
}

func TestFindBranchEmptyCatalog(t *testing.T) {
	cat := &Catalog{}
	_, ok := cat.FindBranch("")
	assert.False(t, ok)
}
