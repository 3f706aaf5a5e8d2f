package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/mcdev12/bidhouse/go/internal/timesync"
	"github.com/shopspring/decimal"
)

// MessageType names every frame exchanged over /ws/auction.
type MessageType string

// Client -> server
const (
	MessageJoinAuction     MessageType = "JOIN_AUCTION"
	MessageLeaveAuction    MessageType = "LEAVE_AUCTION"
	MessageBidPlaced       MessageType = "BID_PLACED"
	MessageRequestTimeSync MessageType = "REQUEST_TIME_SYNC"
)

// Server -> client
const (
	MessageAuctionState MessageType = "AUCTION_STATE"
	MessageUpdateBid    MessageType = "UPDATE_BID"
	MessageOutbidError  MessageType = "OUTBID_ERROR"
	MessageTimeSync     MessageType = "TIME_SYNC"
	MessageAuctionEnded MessageType = "AUCTION_ENDED"
	MessageError        MessageType = "ERROR"
)

// Envelope is the frame shape in both directions.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ItemRef is the payload of JOIN_AUCTION and LEAVE_AUCTION.
type ItemRef struct {
	ItemID string `json:"item_id"`
}

// PlaceBidPayload is the payload of BID_PLACED.
type PlaceBidPayload struct {
	ItemID string          `json:"item_id"`
	Amount decimal.Decimal `json:"amount"`
}

// AuctionStatePayload is the snapshot sent after a successful join.
type AuctionStatePayload struct {
	Item                  *models.AuctionItem `json:"item"`
	HighestBidderUsername string              `json:"highest_bidder_username,omitempty"`
	TimeRemaining         int64               `json:"time_remaining"`
	ServerTime            int64               `json:"server_time"`
}

// OutbidErrorPayload is sent privately to a bidder whose bid was not accepted.
type OutbidErrorPayload struct {
	Code       string           `json:"code"`
	Message    string           `json:"message"`
	ItemID     string           `json:"item_id"`
	CurrentBid *decimal.Decimal `json:"current_bid,omitempty"`
	YourBid    *decimal.Decimal `json:"your_bid,omitempty"`
}

// AuctionEndedPayload announces the close of an item to its room.
type AuctionEndedPayload struct {
	ItemID         string           `json:"item_id"`
	WinnerID       *string          `json:"winner_id"`
	WinnerUsername string           `json:"winner_username,omitempty"`
	FinalPrice     *decimal.Decimal `json:"final_price"`
}

// ErrorPayload reports a malformed or unsupported frame.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ClientMessage is a decoded inbound frame. Exactly one payload field is set,
// matching Type.
type ClientMessage struct {
	Type MessageType
	Item ItemRef
	Bid  PlaceBidPayload
}

// ParseClientMessage decodes an inbound frame into a typed message.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("invalid frame: %w", err)
	}

	msg := ClientMessage{Type: env.Type}
	switch env.Type {
	case MessageJoinAuction, MessageLeaveAuction:
		if err := decodeData(env.Data, &msg.Item); err != nil {
			return ClientMessage{}, err
		}
		if msg.Item.ItemID == "" {
			return ClientMessage{}, fmt.Errorf("%s requires item_id", env.Type)
		}
	case MessageBidPlaced:
		if err := decodeData(env.Data, &msg.Bid); err != nil {
			return ClientMessage{}, err
		}
	case MessageRequestTimeSync:
	case "":
		return ClientMessage{}, fmt.Errorf("missing message type")
	default:
		return ClientMessage{}, fmt.Errorf("unsupported message type %q", env.Type)
	}
	return msg, nil
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}

// EncodeMessage builds an outbound frame.
func EncodeMessage(t MessageType, payload interface{}, at time.Time) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	frame, err := json.Marshal(Envelope{Type: t, Data: data, Timestamp: at})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", t, err)
	}
	return frame, nil
}

func timeSyncFrame(snap timesync.Snapshot) ([]byte, error) {
	return EncodeMessage(MessageTimeSync, snap, time.UnixMilli(snap.ServerTime).UTC())
}
