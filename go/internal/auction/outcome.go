package auction

import (
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/shopspring/decimal"
)

// OutcomeKind enumerates every result a bid attempt can have.
type OutcomeKind string

const (
	OutcomeAccepted         OutcomeKind = "ACCEPTED"
	OutcomeRejectedTooLow   OutcomeKind = "REJECTED_TOO_LOW"
	OutcomeRejectedEnded    OutcomeKind = "REJECTED_ENDED"
	OutcomeRejectedConflict OutcomeKind = "REJECTED_CONFLICT"
	OutcomeNotFound         OutcomeKind = "NOT_FOUND"
	OutcomeInvalidInput     OutcomeKind = "INVALID_INPUT"
	OutcomeInternalFailure  OutcomeKind = "INTERNAL_FAILURE"
)

// Wire codes shared by every transport.
const (
	CodeInvalidInput  = "INVALID_INPUT"
	CodeInvalidAmount = "INVALID_AMOUNT"
	CodeItemNotFound  = "ITEM_NOT_FOUND"
	CodeAuctionEnded  = "AUCTION_ENDED"
	CodeBidTooLow     = "BID_TOO_LOW"
	CodeOutbid        = "OUTBID"
	CodeServerError   = "SERVER_ERROR"
)

// Outcome is the result of AttemptBid. Which fields are set depends on Kind:
//
//	Accepted          Item, Bid, CurrentBid (new), Version (new), BidderName
//	RejectedTooLow    CurrentBid
//	RejectedConflict  CurrentBid (the real one after the race)
//	InvalidInput      Code, Reason
//	InternalFailure   Err
type Outcome struct {
	Kind       OutcomeKind
	CurrentBid decimal.Decimal
	Version    int64
	Item       *models.AuctionItem
	Bid        *models.Bid
	BidderName string
	Code       string
	Reason     string
	Err        error
}

func (o Outcome) Accepted() bool { return o.Kind == OutcomeAccepted }

// Retryable reports whether the caller may re-read and try again with a new amount.
func (o Outcome) Retryable() bool {
	return o.Kind == OutcomeRejectedTooLow || o.Kind == OutcomeRejectedConflict
}

// WireCode maps the outcome onto the error code clients see.
func (o Outcome) WireCode() string {
	switch o.Kind {
	case OutcomeInvalidInput:
		if o.Code != "" {
			return o.Code
		}
		return CodeInvalidInput
	case OutcomeNotFound:
		return CodeItemNotFound
	case OutcomeRejectedEnded:
		return CodeAuctionEnded
	case OutcomeRejectedTooLow:
		return CodeBidTooLow
	case OutcomeRejectedConflict:
		return CodeOutbid
	case OutcomeInternalFailure:
		return CodeServerError
	default:
		return ""
	}
}

// Message is a human readable explanation for rejections.
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeAccepted:
		return "Bid placed successfully"
	case OutcomeInvalidInput:
		if o.Reason != "" {
			return o.Reason
		}
		return "Invalid bid request"
	case OutcomeNotFound:
		return "Auction item not found"
	case OutcomeRejectedEnded:
		return "Auction has ended"
	case OutcomeRejectedTooLow:
		return "Bid must be higher than current bid of " + o.CurrentBid.StringFixed(2)
	case OutcomeRejectedConflict:
		return "You have been outbid. Current bid is " + o.CurrentBid.StringFixed(2)
	default:
		return "Failed to place bid"
	}
}

func accepted(item *models.AuctionItem, bid *models.Bid, name string) Outcome {
	return Outcome{
		Kind:       OutcomeAccepted,
		CurrentBid: item.CurrentBid,
		Version:    item.Version,
		Item:       item,
		Bid:        bid,
		BidderName: name,
	}
}

func tooLow(current decimal.Decimal) Outcome {
	return Outcome{Kind: OutcomeRejectedTooLow, CurrentBid: current}
}

func conflict(current decimal.Decimal) Outcome {
	return Outcome{Kind: OutcomeRejectedConflict, CurrentBid: current}
}

func ended() Outcome { return Outcome{Kind: OutcomeRejectedEnded} }

func notFound() Outcome { return Outcome{Kind: OutcomeNotFound} }

func invalid(code, reason string) Outcome {
	return Outcome{Kind: OutcomeInvalidInput, Code: code, Reason: reason}
}

func internal(err error) Outcome {
	return Outcome{Kind: OutcomeInternalFailure, Err: err}
}
