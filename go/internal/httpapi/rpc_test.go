package httpapi

import (
	"context"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/mcdev12/bidhouse/go/internal/auction"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcClients struct {
	placeBid *connect.Client[RPCPlaceBidRequest, RPCPlaceBidResponse]
	getItem  *connect.Client[RPCGetItemRequest, RPCGetItemResponse]
	getTime  *connect.Client[RPCGetTimeRequest, RPCGetTimeResponse]
}

func newRPCClients(t *testing.T, f *apiFixture) rpcClients {
	t.Helper()
	server := httptest.NewServer(f.router)
	t.Cleanup(server.Close)

	opt := connect.WithCodec(jsonCodec{})
	return rpcClients{
		placeBid: connect.NewClient[RPCPlaceBidRequest, RPCPlaceBidResponse](server.Client(), server.URL+BidServicePlaceBidProcedure, opt),
		getItem:  connect.NewClient[RPCGetItemRequest, RPCGetItemResponse](server.Client(), server.URL+BidServiceGetItemProcedure, opt),
		getTime:  connect.NewClient[RPCGetTimeRequest, RPCGetTimeResponse](server.Client(), server.URL+BidServiceGetTimeProcedure, opt),
	}
}

func placeBidRequest(f *apiFixture, bidder, amount string) *connect.Request[RPCPlaceBidRequest] {
	req := connect.NewRequest(&RPCPlaceBidRequest{ItemID: f.item.ID.String(), Amount: d(amount)})
	if bidder != "" {
		req.Header().Set(BidderHeader, bidder)
	}
	return req
}

func TestRPC_PlaceBid(t *testing.T) {
	f := newAPIFixture(t)
	clients := newRPCClients(t, f)
	ctx := context.Background()

	resp, err := clients.placeBid.CallUnary(ctx, placeBidRequest(f, "alice", "550"))
	require.NoError(t, err)
	require.NotNil(t, resp.Msg.Bid)
	assert.Equal(t, models.BidSourceRPC, resp.Msg.Bid.Source)
	assert.True(t, d("550").Equal(resp.Msg.Item.CurrentBid))

	_, err = clients.placeBid.CallUnary(ctx, placeBidRequest(f, "bob", "540"))
	require.Error(t, err)
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	var connectErr *connect.Error
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, auction.CodeBidTooLow, connectErr.Meta().Get(ErrorCodeHeader))
	assert.Equal(t, "550", connectErr.Meta().Get("Current-Bid"))

	_, err = clients.placeBid.CallUnary(ctx, placeBidRequest(f, "", "600"))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestRPC_GetItemAndTime(t *testing.T) {
	f := newAPIFixture(t)
	clients := newRPCClients(t, f)
	ctx := context.Background()

	resp, err := clients.getItem.CallUnary(ctx, connect.NewRequest(&RPCGetItemRequest{ItemID: f.item.ID.String()}))
	require.NoError(t, err)
	require.NotNil(t, resp.Msg.Item)
	assert.Equal(t, f.item.ID, resp.Msg.Item.ID)
	assert.Equal(t, int64(90), resp.Msg.Item.TimeRemaining)

	_, err = clients.getItem.CallUnary(ctx, connect.NewRequest(&RPCGetItemRequest{ItemID: "0b4b1c0e-6a9f-4f5e-8a39-9d1f2f3f4a11"}))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = clients.getItem.CallUnary(ctx, connect.NewRequest(&RPCGetItemRequest{ItemID: "nope"}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	tr, err := clients.getTime.CallUnary(ctx, connect.NewRequest(&RPCGetTimeRequest{}))
	require.NoError(t, err)
	assert.Equal(t, epoch.UnixMilli(), tr.Msg.Time.ServerTime)
}

func TestOutcomeError(t *testing.T) {
	tests := []struct {
		outcome auction.Outcome
		code    connect.Code
	}{
		{auction.Outcome{Kind: auction.OutcomeInvalidInput}, connect.CodeInvalidArgument},
		{auction.Outcome{Kind: auction.OutcomeNotFound}, connect.CodeNotFound},
		{auction.Outcome{Kind: auction.OutcomeRejectedTooLow}, connect.CodeFailedPrecondition},
		{auction.Outcome{Kind: auction.OutcomeRejectedEnded}, connect.CodeFailedPrecondition},
		{auction.Outcome{Kind: auction.OutcomeRejectedConflict}, connect.CodeAborted},
		{auction.Outcome{Kind: auction.OutcomeInternalFailure}, connect.CodeInternal},
	}
	for _, tt := range tests {
		err := outcomeError(tt.outcome)
		assert.Equal(t, tt.code, err.Code(), tt.outcome.Kind)
		assert.Equal(t, tt.outcome.WireCode(), err.Meta().Get(ErrorCodeHeader))
	}
}
