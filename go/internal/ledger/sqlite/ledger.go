// Package sqlite is an embedded single-node ledger built on gorm and the
// pure-Go SQLite driver. Writes are funnelled through one connection, and
// the conditional update is a guarded UPDATE plus read-back inside a single
// transaction.
package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Ledger struct {
	db    *gorm.DB
	clock ledger.Clock
}

var _ ledger.Ledger = (*Ledger)(nil)

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string, clock ledger.Clock) (*Ledger, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&itemRow{}, &bidRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return &Ledger{db: db, clock: clock}, nil
}

func (l *Ledger) GetItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	var row itemRow
	err := l.db.WithContext(ctx).First(&row, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auction item: %w", err)
	}
	return row.toModel()
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

	row := itemRow{
		ID:            id.String(),
		Title:         n.Title,
		Description:   n.Description,
		StartingPrice: n.StartingPrice,
		CurrentBid:    n.StartingPrice,
		AuctionEndMs:  n.AuctionEndTime.UnixMilli(),
		Status:        string(models.ItemStatusLive),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errors.Join(ledger.ErrInvalidItem, err)
		}
		return nil, fmt.Errorf("failed to create auction item: %w", err)
	}
	return row.toModel()
}

func (l *Ledger) ConditionalUpdate(ctx context.Context, upd ledger.ConditionalUpdate) (*models.AuctionItem, error) {
	var row itemRow
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := l.clock.Now()

		q := tx.Model(&itemRow{}).
			Where("id = ? AND version = ? AND current_bid < ?",
				upd.ItemID.String(), upd.ExpectedVersion, upd.RequireCurrentBidBelow)
		if upd.RequireLive {
			q = q.Where("status = ?", string(models.ItemStatusLive))
		}
		if upd.RequireBeforeEnd {
			q = q.Where("auction_end_ms > ?", now.UnixMilli())
		}

		res := q.Updates(map[string]any{
			"current_bid":       upd.NewCurrentBid,
			"highest_bidder_id": upd.NewHighestBidderID,
			"version":           gorm.Expr("version + 1"),
			"updated_at":        now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ledger.ErrNoMatch
		}
		return tx.First(&row, "id = ?", upd.ItemID.String()).Error
	})
	if errors.Is(err, ledger.ErrNoMatch) {
		return nil, ledger.ErrNoMatch
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply conditional update: %w", err)
	}
	return row.toModel()
}

func (l *Ledger) AppendBid(ctx context.Context, bid *models.Bid) error {
	id := bid.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	row := bidRow{
		ID:          id.String(),
		ItemID:      bid.ItemID.String(),
		BidderID:    bid.BidderID,
		Amount:      bid.Amount,
		ItemVersion: bid.Version,
		Source:      string(bid.Source),
		CreatedAt:   bid.CreatedAt,
	}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to append bid: %w", err)
	}
	return nil
}

func (l *Ledger) ListBids(ctx context.Context, itemID uuid.UUID, limit, offset int) ([]*models.Bid, error) {
	limit, offset = ledger.ClampPage(limit, offset)

	var rows []bidRow
	err := l.db.WithContext(ctx).
		Where("item_id = ?", itemID.String()).
		Order("item_version DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	return bidsFromRows(rows)
}

func (l *Ledger) ListBidsByBidder(ctx context.Context, bidderID string, limit, offset int) ([]*models.Bid, error) {
	limit, offset = ledger.ClampPage(limit, offset)

	var rows []bidRow
	err := l.db.WithContext(ctx).
		Where("bidder_id = ?", bidderID).
		Order("created_at DESC").
		Order("item_version DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bidder bids: %w", err)
	}
	return bidsFromRows(rows)
}

func (l *Ledger) CountBidsByBidder(ctx context.Context, bidderID string) (int, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&bidRow{}).Where("bidder_id = ?", bidderID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count bidder bids: %w", err)
	}
	return int(n), nil
}

func bidsFromRows(rows []bidRow) ([]*models.Bid, error) {
	bids := make([]*models.Bid, 0, len(rows))
	for _, r := range rows {
		b, err := r.toModel()
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, nil
}

func (l *Ledger) CountBids(ctx context.Context, itemID uuid.UUID) (int, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&bidRow{}).Where("item_id = ?", itemID.String()).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count bids: %w", err)
	}
	return int(n), nil
}

func (l *Ledger) CloseItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	var row itemRow
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := l.clock.Now()

		res := tx.Model(&itemRow{}).
			Where("id = ? AND status = ? AND auction_end_ms <= ?",
				id.String(), string(models.ItemStatusLive), now.UnixMilli()).
			Updates(map[string]any{
				"status":      string(models.ItemStatusEnded),
				"winner_id":   gorm.Expr("highest_bidder_id"),
				"final_price": gorm.Expr("CASE WHEN highest_bidder_id IS NULL THEN NULL ELSE current_bid END"),
				"updated_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ledger.ErrNoMatch
		}
		return tx.First(&row, "id = ?", id.String()).Error
	})
	if errors.Is(err, ledger.ErrNoMatch) {
		return nil, ledger.ErrNoMatch
	}
	if err != nil {
		return nil, fmt.Errorf("failed to close auction item: %w", err)
	}
	return row.toModel()
}

func (l *Ledger) ListLiveItems(ctx context.Context) ([]*models.AuctionItem, error) {
	var rows []itemRow
	err := l.db.WithContext(ctx).
		Where("status = ?", string(models.ItemStatusLive)).
		Order("auction_end_ms ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list live items: %w", err)
	}

	items := make([]*models.AuctionItem, 0, len(rows))
	for _, r := range rows {
		item, err := r.toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
