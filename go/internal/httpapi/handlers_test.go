package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/auction"
	"github.com/mcdev12/bidhouse/go/internal/bidders"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/ledger/memory"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/mcdev12/bidhouse/go/internal/timesync"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type apiFixture struct {
	clock   *clockwork.FakeClock
	ledger  *memory.Ledger
	handler *Handler
	router  *mux.Router
	item    *models.AuctionItem
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	oracle := timesync.NewOracle(clock)
	l := memory.New(oracle)
	directory := bidders.NewStatic(map[string]string{"alice": "Alice"})

	item, err := l.CreateItem(context.Background(), ledger.NewItem{
		Title:          "Signed Guitar",
		StartingPrice:  d("500"),
		AuctionEndTime: epoch.Add(90 * time.Second),
	})
	require.NoError(t, err)

	arbitrator := auction.NewArbitrator(l, oracle, auction.WithDirectory(directory))
	h := NewHandler(arbitrator, l, oracle, directory, func() int { return 3 })

	router := mux.NewRouter()
	router.Use(LoggingMiddleware)
	h.RegisterRoutes(router)
	NewRPCService(h).RegisterRoutes(router)

	return &apiFixture{clock: clock, ledger: l, handler: h, router: router, item: item}
}

func (f *apiFixture) do(t *testing.T, method, path, bidder string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bidder != "" {
		req.Header.Set(BidderHeader, bidder)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) bid(t *testing.T, bidder, amount string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, "/api/bids", bidder, map[string]string{
		"item_id": f.item.ID.String(),
		"amount":  amount,
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestPlaceBid_Accepted(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.bid(t, "alice", "600")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body PlaceBidResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotNil(t, body.Bid)
	require.NotNil(t, body.Item)
	assert.Equal(t, "alice", body.Bid.BidderID)
	assert.Equal(t, models.BidSourceREST, body.Bid.Source)
	assert.Equal(t, int64(1), body.Item.Version)
	assert.True(t, d("600").Equal(body.Item.CurrentBid))
}

// The 500/600/650 scenario: B's 650 lands first, A's 600 is then too low.
func TestPlaceBid_RejectionStatusCodes(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusCreated, f.bid(t, "bob", "650").Code)

	rec := f.bid(t, "alice", "600")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, auction.CodeBidTooLow, body.Error)
	require.NotNil(t, body.CurrentBid)
	assert.True(t, d("650").Equal(*body.CurrentBid))

	tests := []struct {
		name   string
		bidder string
		body   interface{}
		status int
		code   string
	}{
		{
			name:   "missing bidder",
			body:   map[string]string{"item_id": f.item.ID.String(), "amount": "700"},
			status: http.StatusBadRequest,
			code:   auction.CodeInvalidInput,
		},
		{
			name:   "too many decimals",
			bidder: "alice",
			body:   map[string]string{"item_id": f.item.ID.String(), "amount": "700.123"},
			status: http.StatusBadRequest,
			code:   auction.CodeInvalidAmount,
		},
		{
			name:   "negative amount",
			bidder: "alice",
			body:   map[string]string{"item_id": f.item.ID.String(), "amount": "-5"},
			status: http.StatusBadRequest,
			code:   auction.CodeInvalidAmount,
		},
		{
			name:   "unknown item",
			bidder: "alice",
			body:   map[string]string{"item_id": "0b4b1c0e-6a9f-4f5e-8a39-9d1f2f3f4a11", "amount": "700"},
			status: http.StatusNotFound,
			code:   auction.CodeItemNotFound,
		},
		{
			name:   "garbage body",
			bidder: "alice",
			body:   "not an object",
			status: http.StatusBadRequest,
			code:   auction.CodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/bids", tt.bidder, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestPlaceBid_AfterEnd(t *testing.T) {
	f := newAPIFixture(t)
	f.clock.Advance(90 * time.Second)

	rec := f.bid(t, "alice", "900")
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, auction.CodeAuctionEnded, decodeError(t, rec).Error)
}

func TestStatusForOutcome(t *testing.T) {
	tests := []struct {
		kind   auction.OutcomeKind
		status int
	}{
		{auction.OutcomeAccepted, http.StatusCreated},
		{auction.OutcomeInvalidInput, http.StatusBadRequest},
		{auction.OutcomeRejectedTooLow, http.StatusBadRequest},
		{auction.OutcomeNotFound, http.StatusNotFound},
		{auction.OutcomeRejectedConflict, http.StatusConflict},
		{auction.OutcomeRejectedEnded, http.StatusGone},
		{auction.OutcomeInternalFailure, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusForOutcome(auction.Outcome{Kind: tt.kind}), tt.kind)
	}
}

func TestGetItem(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusCreated, f.bid(t, "alice", "510").Code)
	f.clock.Advance(30*time.Second + 600*time.Millisecond)

	rec := f.do(t, http.MethodGet, "/api/items/"+f.item.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, f.item.ID.String(), body["id"])
	assert.Equal(t, "Alice", body["highest_bidder_username"])
	assert.Equal(t, float64(59), body["time_remaining"])
	assert.Equal(t, float64(1), body["bid_count"])

	rec = f.do(t, http.MethodGet, "/api/items/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/items/0b4b1c0e-6a9f-4f5e-8a39-9d1f2f3f4a11", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, auction.CodeItemNotFound, decodeError(t, rec).Error)
}

func TestListBids_NewestFirstWithPaging(t *testing.T) {
	f := newAPIFixture(t)
	for _, amount := range []string{"510", "520", "530"} {
		require.Equal(t, http.StatusCreated, f.bid(t, "alice", amount).Code)
	}

	rec := f.do(t, http.MethodGet, "/api/items/"+f.item.ID.String()+"/bids?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page BidHistoryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Bids, 2)
	assert.Equal(t, int64(3), page.Bids[0].Version)
	assert.Equal(t, int64(2), page.Bids[1].Version)

	rec = f.do(t, http.MethodGet, "/api/items/"+f.item.ID.String()+"/bids?limit=500&offset=2", "", nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, ledger.MaxBidPageSize, page.Limit)
	require.Len(t, page.Bids, 1)
	assert.Equal(t, int64(1), page.Bids[0].Version)
}

func TestMyBids_TagsStanding(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	lens, err := f.ledger.CreateItem(ctx, ledger.NewItem{
		Title:          "Lens",
		StartingPrice:  d("50"),
		AuctionEndTime: epoch.Add(time.Hour),
	})
	require.NoError(t, err)

	require.Equal(t, http.StatusCreated, f.bid(t, "alice", "510").Code)
	f.clock.Advance(time.Second)
	require.Equal(t, http.StatusCreated, f.bid(t, "bob", "520").Code)
	f.clock.Advance(time.Second)
	rec := f.do(t, http.MethodPost, "/api/bids", "alice", map[string]string{"item_id": lens.ID.String(), "amount": "60"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	myBids := func(t *testing.T, query string) MyBidsResponse {
		t.Helper()
		rec := f.do(t, http.MethodGet, "/api/bids/user/me"+query, "alice", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var page MyBidsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
		return page
	}

	page := myBids(t, "")
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Bids, 2)
	assert.Equal(t, lens.ID, page.Bids[0].ItemID)
	assert.Equal(t, models.BidStandingWinning, page.Bids[0].Status)
	require.NotNil(t, page.Bids[0].Item)
	assert.Equal(t, "Lens", page.Bids[0].Item.Title)
	assert.Equal(t, f.item.ID, page.Bids[1].ItemID)
	assert.Equal(t, models.BidStandingOutbid, page.Bids[1].Status)

	page = myBids(t, "?limit=1&offset=1")
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.Limit)
	require.Len(t, page.Bids, 1)
	assert.Equal(t, f.item.ID, page.Bids[0].ItemID)

	f.clock.Advance(90 * time.Second)
	_, err = f.ledger.CloseItem(ctx, f.item.ID)
	require.NoError(t, err)

	page = myBids(t, "")
	require.Len(t, page.Bids, 2)
	assert.Equal(t, models.BidStandingWinning, page.Bids[0].Status)
	assert.Equal(t, models.BidStandingLost, page.Bids[1].Status)

	rec = f.do(t, http.MethodGet, "/api/bids/user/me", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bobs MyBidsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&bobs))
	require.Len(t, bobs.Bids, 1)
	assert.Equal(t, models.BidStandingWon, bobs.Bids[0].Status)

	rec = f.do(t, http.MethodGet, "/api/bids/user/me", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, auction.CodeInvalidInput, decodeError(t, rec).Error)
}

func TestServerTimeAndHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/time", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap timesync.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, epoch.UnixMilli(), snap.ServerTime)

	rec = f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 3, health.Connections)
}

func TestHealthProbes(t *testing.T) {
	f := newAPIFixture(t)
	f.handler.AddHealthCheck("ledger", func(context.Context) error { return nil })

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, map[string]string{"ledger": "ok"}, health.Checks)

	f.handler.AddHealthCheck("nats", func(context.Context) error { return errors.New("nats disconnected") })

	rec = f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	health = HealthResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "nats disconnected", health.Checks["nats"])
	assert.Equal(t, "ok", health.Checks["ledger"])
}
