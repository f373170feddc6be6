package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

type esRequest struct {
	method string
	path   string
	query  map[string]string
	body   []byte
}

type fakeCluster struct {
	mu       sync.Mutex
	requests []esRequest
	status   int
}

func (c *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	c.mu.Lock()
	q := map[string]string{}
	for k := range r.URL.Query() {
		q[k] = r.URL.Query().Get(k)
	}
	c.requests = append(c.requests, esRequest{method: r.Method, path: r.URL.Path, query: q, body: body})
	status := c.status
	c.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{}`))
}

func newIndexer(t *testing.T, status int) (*OrderIndexer, *fakeCluster) {
	t.Helper()
	cluster := &fakeCluster{status: status}
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewOrderIndexer(client, "orders", logger.NewNop()), cluster
}

func orderEvent(t *testing.T, at time.Time) *models.OutboxMessage {
	t.Helper()
	msg, err := models.NewOrderEvent(models.EventPaymentVerified, models.OrderEventData{
		Order:   &models.Order{OrderNumber: "ORD-0A1B2C3D", CustomerID: "cust-1"},
		Payment: &models.Payment{Reference: "PAY-1", PaymentType: models.PaymentMethodOnline},
	}, at)
	require.NoError(t, err)
	return msg
}

func TestOrderIndexer_IndexesWithExternalVersion(t *testing.T) {
	idx, cluster := newIndexer(t, http.StatusCreated)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, idx.HandleMessage(context.Background(), orderEvent(t, at)))

	require.Len(t, cluster.requests, 1)
	req := cluster.requests[0]
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/orders/_doc/ORD-0A1B2C3D", req.path)
	assert.Equal(t, "external", req.query["version_type"])
	assert.Equal(t, strconv.FormatInt(at.UnixNano(), 10), req.query["version"])

	var doc OrderDocument
	require.NoError(t, json.Unmarshal(req.body, &doc))
	assert.Equal(t, "ORD-0A1B2C3D", doc.OrderNumber)
	assert.Equal(t, models.EventPaymentVerified, doc.LastEvent)
	assert.Contains(t, string(doc.Payment), "PAY-1")
}

func TestOrderIndexer_StaleVersionIsSkipped(t *testing.T) {
	idx, _ := newIndexer(t, http.StatusConflict)

	assert.NoError(t, idx.HandleMessage(context.Background(), orderEvent(t, time.Now().UTC())))
}

func TestOrderIndexer_ClusterErrorFails(t *testing.T) {
	idx, _ := newIndexer(t, http.StatusBadRequest)

	err := idx.HandleMessage(context.Background(), orderEvent(t, time.Now().UTC()))
	assert.ErrorContains(t, err, "failed to index order ORD-0A1B2C3D")
}

func TestOrderIndexer_PurgeDeletesDocuments(t *testing.T) {
	idx, cluster := newIndexer(t, http.StatusNotFound)

	msg, err := models.NewOrdersPurgedEvent([]string{"ORD-11111111", "ORD-22222222"}, time.Now().UTC(), time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, idx.HandleMessage(context.Background(), msg))
	require.Len(t, cluster.requests, 2)
	assert.Equal(t, http.MethodDelete, cluster.requests[0].method)
	assert.Equal(t, "/orders/_doc/ORD-11111111", cluster.requests[0].path)
	assert.Equal(t, "/orders/_doc/ORD-22222222", cluster.requests[1].path)
}
