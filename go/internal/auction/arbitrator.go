// Package auction decides which of several racing bids wins. A bid is
// validated against a snapshot, then committed with a single version-gated
// conditional update; losers are classified by a plain re-read.
package auction

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/bidhouse/go/internal/bidders"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/metrics"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// BidRequest is the transport-independent input to AttemptBid. BidderID is
// supplied by the identity collaborator; the arbitrator does no auth.
type BidRequest struct {
	ItemID   string
	BidderID string
	Amount   decimal.Decimal
	Source   models.BidSource
}

// Clock is the authoritative time source.
type Clock interface {
	Now() time.Time
}

// DeltaPublisher hands an accepted state change to the fan-out path. It must
// not block on slow subscribers.
type DeltaPublisher interface {
	Publish(ctx context.Context, delta models.BidDelta) error
}

// Arbitrator is the single entry point every transport forwards bids to.
type Arbitrator struct {
	ledger    ledger.Ledger
	clock     Clock
	publisher DeltaPublisher
	directory bidders.Directory
	metrics   metrics.Collector
}

type Option func(*Arbitrator)

func WithPublisher(p DeltaPublisher) Option {
	return func(a *Arbitrator) { a.publisher = p }
}

func WithDirectory(d bidders.Directory) Option {
	return func(a *Arbitrator) { a.directory = d }
}

func WithMetrics(m metrics.Collector) Option {
	return func(a *Arbitrator) { a.metrics = m }
}

func NewArbitrator(l ledger.Ledger, clock Clock, opts ...Option) *Arbitrator {
	a := &Arbitrator{
		ledger:  l,
		clock:   clock,
		metrics: metrics.NoOp{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AttemptBid runs one bid through validation, the conditional update and
// post-commit work. It always returns one of the enumerated outcomes.
func (a *Arbitrator) AttemptBid(ctx context.Context, req BidRequest) Outcome {
	start := time.Now()
	outcome := a.attempt(ctx, req)
	a.metrics.RecordBid(string(outcome.Kind), time.Since(start))

	evt := log.Debug()
	if outcome.Kind == OutcomeInternalFailure {
		evt = log.Error().Err(outcome.Err)
	}
	evt.Str("item_id", req.ItemID).
		Str("bidder_id", req.BidderID).
		Str("amount", req.Amount.String()).
		Str("source", string(req.Source)).
		Str("outcome", string(outcome.Kind)).
		Int64("version", outcome.Version).
		Msg("bid attempt resolved")

	return outcome
}

func (a *Arbitrator) attempt(ctx context.Context, req BidRequest) Outcome {
	itemID, rejection, ok := validate(req)
	if !ok {
		return rejection
	}

	snap, err := a.ledger.GetItem(ctx, itemID)
	if errors.Is(err, ledger.ErrItemNotFound) {
		return notFound()
	}
	if err != nil {
		return internal(err)
	}

	// Fail fast without touching storage. An ended auction wins over a low amount.
	if !snap.IsLive(a.clock.Now()) {
		return ended()
	}
	if !req.Amount.GreaterThan(snap.CurrentBid) {
		return tooLow(snap.CurrentBid)
	}

	// Once issued the update either commits or fails; the caller going away
	// must not leave post-commit work half done.
	commitCtx := context.WithoutCancel(ctx)

	updated, err := a.ledger.ConditionalUpdate(commitCtx, ledger.ConditionalUpdate{
		ItemID:                 itemID,
		ExpectedVersion:        snap.Version,
		RequireCurrentBidBelow: req.Amount,
		RequireLive:            true,
		RequireBeforeEnd:       true,
		NewCurrentBid:          req.Amount,
		NewHighestBidderID:     req.BidderID,
	})
	if errors.Is(err, ledger.ErrNoMatch) {
		return a.classifyNoMatch(commitCtx, itemID)
	}
	if err != nil {
		return internal(err)
	}

	bid := a.appendBid(commitCtx, updated, req)
	name := bidders.Resolve(commitCtx, a.directory, req.BidderID)
	a.publish(commitCtx, updated, name)

	return accepted(updated, bid, name)
}

// classifyNoMatch re-reads the item to tell a lost race from a closed auction.
func (a *Arbitrator) classifyNoMatch(ctx context.Context, itemID uuid.UUID) Outcome {
	cur, err := a.ledger.GetItem(ctx, itemID)
	if errors.Is(err, ledger.ErrItemNotFound) {
		return notFound()
	}
	if err != nil {
		return internal(err)
	}
	if !cur.IsLive(a.clock.Now()) {
		return ended()
	}
	return conflict(cur.CurrentBid)
}

func (a *Arbitrator) appendBid(ctx context.Context, item *models.AuctionItem, req BidRequest) *models.Bid {
	bid := &models.Bid{
		ID:        uuid.New(),
		ItemID:    item.ID,
		BidderID:  req.BidderID,
		Amount:    req.Amount,
		Version:   item.Version,
		Source:    req.Source,
		CreatedAt: a.clock.Now(),
	}
	if err := a.ledger.AppendBid(ctx, bid); err != nil {
		a.metrics.RecordPostCommitFailure("append_bid")
		log.Error().Err(err).
			Str("item_id", item.ID.String()).
			Int64("version", item.Version).
			Msg("failed to append bid after commit")
	}
	return bid
}

func (a *Arbitrator) publish(ctx context.Context, item *models.AuctionItem, name string) {
	if a.publisher == nil {
		return
	}
	delta := models.BidDelta{
		ItemID:                item.ID,
		CurrentBid:            item.CurrentBid,
		HighestBidderUsername: name,
		Version:               item.Version,
		Timestamp:             a.clock.Now(),
	}
	if item.HighestBidderID != nil {
		delta.HighestBidderID = *item.HighestBidderID
	}
	if err := a.publisher.Publish(ctx, delta); err != nil {
		a.metrics.RecordPostCommitFailure("publish")
		log.Warn().Err(err).
			Str("item_id", item.ID.String()).
			Int64("version", item.Version).
			Msg("failed to hand off bid delta")
	}
}

func validate(req BidRequest) (uuid.UUID, Outcome, bool) {
	if strings.TrimSpace(req.ItemID) == "" {
		return uuid.Nil, invalid(CodeInvalidInput, "Item ID is required"), false
	}
	itemID, err := uuid.Parse(req.ItemID)
	if err != nil {
		return uuid.Nil, invalid(CodeInvalidInput, "Item ID is malformed"), false
	}
	if strings.TrimSpace(req.BidderID) == "" {
		return uuid.Nil, invalid(CodeInvalidInput, "Bidder ID is required"), false
	}
	if !req.Amount.IsPositive() {
		return uuid.Nil, invalid(CodeInvalidAmount, "Bid amount must be a positive number"), false
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return uuid.Nil, invalid(CodeInvalidAmount, "Bid amount supports at most two decimal places"), false
	}
	return itemID, Outcome{}, true
}
