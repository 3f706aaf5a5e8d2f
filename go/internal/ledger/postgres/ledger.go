// Package postgres implements the ledger on PostgreSQL. The conditional
// update is a single guarded UPDATE ... RETURNING; row-level locking plus
// re-evaluation of the WHERE clause under READ COMMITTED gives the
// compare-and-swap semantics without an explicit transaction.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sqlc-dev/pqtype"
)

const itemColumns = `id, title, description, starting_price, current_bid, highest_bidder_id,
	auction_end_time, status, winner_id, final_price, version, created_at, updated_at`

type Ledger struct {
	pool  *pgxpool.Pool
	clock ledger.Clock
}

var _ ledger.Ledger = (*Ledger)(nil)

func New(pool *pgxpool.Pool, clock ledger.Clock) *Ledger {
	return &Ledger{pool: pool, clock: clock}
}

// Pool exposes the underlying pool for components sharing the connection (relay, health).
func (l *Ledger) Pool() *pgxpool.Pool {
	return l.pool
}

func (l *Ledger) GetItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM auction_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auction item: %w", err)
	}
	return item, nil
}

func (l *Ledger) CreateItem(ctx context.Context, n ledger.NewItem) (*models.AuctionItem, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	id := n.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := l.clock.Now()

	row := l.pool.QueryRow(ctx, `
		INSERT INTO auction_items (id, title, description, starting_price, current_bid,
			auction_end_time, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, $5, 'LIVE', 0, $6, $6)
		RETURNING `+itemColumns,
		id, n.Title, n.Description, n.StartingPrice, n.AuctionEndTime.UTC(), now,
	)
	item, err := scanItem(row)
	if err != nil {
		if isUniqueViolation(err) || isCheckViolation(err) {
			return nil, errors.Join(ledger.ErrInvalidItem, err)
		}
		return nil, fmt.Errorf("failed to create auction item: %w", err)
	}
	return item, nil
}

func (l *Ledger) ConditionalUpdate(ctx context.Context, upd ledger.ConditionalUpdate) (*models.AuctionItem, error) {
	now := l.clock.Now()

	row := l.pool.QueryRow(ctx, `
		UPDATE auction_items
		SET current_bid = $3,
		    highest_bidder_id = $4,
		    version = version + 1,
		    updated_at = $5
		WHERE id = $1
		  AND version = $2
		  AND current_bid < $6
		  AND ($7::boolean IS FALSE OR status = 'LIVE')
		  AND ($8::boolean IS FALSE OR auction_end_time > $5)
		RETURNING `+itemColumns,
		upd.ItemID, upd.ExpectedVersion, upd.NewCurrentBid, upd.NewHighestBidderID, now,
		upd.RequireCurrentBidBelow, upd.RequireLive, upd.RequireBeforeEnd,
	)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNoMatch
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply conditional update: %w", err)
	}
	return item, nil
}

type bidMetadata struct {
	Source models.BidSource `json:"source,omitempty"`
}

func (l *Ledger) AppendBid(ctx context.Context, bid *models.Bid) error {
	id := bid.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	var meta pqtype.NullRawMessage
	if bid.Source != "" {
		raw, err := json.Marshal(bidMetadata{Source: bid.Source})
		if err != nil {
			return fmt.Errorf("failed to marshal bid metadata: %w", err)
		}
		meta = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	_, err := l.pool.Exec(ctx, `
		INSERT INTO bids (id, item_id, bidder_id, amount, item_version, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (item_id, item_version) DO NOTHING`,
		id, bid.ItemID, bid.BidderID, bid.Amount, bid.Version, meta, bid.CreatedAt.UTC(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ledger.ErrItemNotFound
		}
		return fmt.Errorf("failed to append bid: %w", err)
	}
	return nil
}

func (l *Ledger) ListBids(ctx context.Context, itemID uuid.UUID, limit, offset int) ([]*models.Bid, error) {
	limit, offset = ledger.ClampPage(limit, offset)

	rows, err := l.pool.Query(ctx, `
		SELECT `+bidColumns+`
		FROM bids
		WHERE item_id = $1
		ORDER BY item_version DESC
		LIMIT $2 OFFSET $3`,
		itemID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	return scanBids(rows)
}

func (l *Ledger) ListBidsByBidder(ctx context.Context, bidderID string, limit, offset int) ([]*models.Bid, error) {
	limit, offset = ledger.ClampPage(limit, offset)

	rows, err := l.pool.Query(ctx, `
		SELECT `+bidColumns+`
		FROM bids
		WHERE bidder_id = $1
		ORDER BY created_at DESC, item_version DESC
		LIMIT $2 OFFSET $3`,
		bidderID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bidder bids: %w", err)
	}
	return scanBids(rows)
}

func (l *Ledger) CountBidsByBidder(ctx context.Context, bidderID string) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bids WHERE bidder_id = $1`, bidderID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bidder bids: %w", err)
	}
	return n, nil
}

const bidColumns = `id, item_id, bidder_id, amount, item_version, metadata, created_at`

func scanBids(rows pgx.Rows) ([]*models.Bid, error) {
	defer rows.Close()

	bids := []*models.Bid{}
	for rows.Next() {
		var (
			b    models.Bid
			meta pqtype.NullRawMessage
		)
		if err := rows.Scan(&b.ID, &b.ItemID, &b.BidderID, &b.Amount, &b.Version, &meta, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		if meta.Valid {
			var m bidMetadata
			if err := json.Unmarshal(meta.RawMessage, &m); err == nil {
				b.Source = m.Source
			}
		}
		b.CreatedAt = b.CreatedAt.UTC()
		bids = append(bids, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bids: %w", err)
	}
	return bids, nil
}

func (l *Ledger) CountBids(ctx context.Context, itemID uuid.UUID) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bids WHERE item_id = $1`, itemID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bids: %w", err)
	}
	return n, nil
}

func (l *Ledger) CloseItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	now := l.clock.Now()

	row := l.pool.QueryRow(ctx, `
		UPDATE auction_items
		SET status = 'ENDED',
		    winner_id = highest_bidder_id,
		    final_price = CASE WHEN highest_bidder_id IS NULL THEN NULL ELSE current_bid END,
		    updated_at = $2
		WHERE id = $1
		  AND status = 'LIVE'
		  AND auction_end_time <= $2
		RETURNING `+itemColumns,
		id, now,
	)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNoMatch
	}
	if err != nil {
		return nil, fmt.Errorf("failed to close auction item: %w", err)
	}
	return item, nil
}

func (l *Ledger) ListLiveItems(ctx context.Context) ([]*models.AuctionItem, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM auction_items
		WHERE status = 'LIVE'
		ORDER BY auction_end_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list live items: %w", err)
	}
	defer rows.Close()

	var items []*models.AuctionItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate live items: %w", err)
	}
	return items, nil
}

func (l *Ledger) Close() error {
	l.pool.Close()
	return nil
}

func scanItem(row pgx.Row) (*models.AuctionItem, error) {
	var (
		item       models.AuctionItem
		status     string
		finalPrice decimal.NullDecimal
		endTime    time.Time
	)
	err := row.Scan(
		&item.ID, &item.Title, &item.Description, &item.StartingPrice, &item.CurrentBid,
		&item.HighestBidderID, &endTime, &status, &item.WinnerID, &finalPrice,
		&item.Version, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Status = models.ItemStatus(status)
	item.AuctionEndTime = endTime.UTC()
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	if finalPrice.Valid {
		fp := finalPrice.Decimal
		item.FinalPrice = &fp
	}
	return &item, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
