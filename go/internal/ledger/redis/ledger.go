// Package redis implements the ledger on Redis hashes. Creates, conditional
// updates and closes run as Lua scripts so the guard check and the write are
// one server-side operation.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/models"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:6379",
		KeyPrefix: "auction",
	}
}

type Ledger struct {
	client *goredis.Client
	clock  ledger.Clock
	prefix string
}

var _ ledger.Ledger = (*Ledger)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, clock ledger.Clock) (*Ledger, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "auction"
	}
	return &Ledger{client: client, clock: clock, prefix: prefix}, nil
}

func (l *Ledger) itemKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:item:%s", l.prefix, id)
}

func (l *Ledger) bidsKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:item:%s:bids", l.prefix, id)
}

func (l *Ledger) bidVersionsKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:item:%s:bid_versions", l.prefix, id)
}

func (l *Ledger) bidderKey(bidderID string) string {
	return fmt.Sprintf("%s:bidder:%s:bids", l.prefix, bidderID)
}

func (l *Ledger) liveKey() string {
	return l.prefix + ":items:live"
}

func (l *Ledger) GetItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	fields, err := l.client.HGetAll(ctx, l.itemKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get auction item: %w", err)
	}
	if len(fields) == 0 {
		return nil, ledger.ErrItemNotFound
	}
	return decodeItem(fields)
}

func (l *Ledger) CreateItem(ctx context.Context, n ledger.NewItem) (*models.AuctionItem, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	id := n.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	key := l.itemKey(id)
	now := l.clock.Now().UnixMilli()
	end := n.AuctionEndTime.UnixMilli()

	created, err := createItemScript.Run(ctx, l.client,
		[]string{key, l.liveKey()},
		id.String(), n.Title, n.Description, n.StartingPrice.String(), end, now,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to create auction item: %w", err)
	}
	if created == 0 {
		return nil, errors.Join(ledger.ErrInvalidItem, fmt.Errorf("item %s already exists", id))
	}
	return l.GetItem(ctx, id)
}

func (l *Ledger) ConditionalUpdate(ctx context.Context, upd ledger.ConditionalUpdate) (*models.AuctionItem, error) {
	res, err := conditionalUpdateScript.Run(ctx, l.client,
		[]string{l.itemKey(upd.ItemID)},
		upd.ExpectedVersion,
		upd.RequireCurrentBidBelow.String(),
		flag(upd.RequireLive),
		flag(upd.RequireBeforeEnd),
		l.clock.Now().UnixMilli(),
		upd.NewCurrentBid.String(),
		upd.NewHighestBidderID,
	).Slice()
	if errors.Is(err, goredis.Nil) {
		return nil, ledger.ErrNoMatch
	}
	if err != nil {
		return nil, fmt.Errorf("failed to run conditional update script: %w", err)
	}
	return decodeItem(pairs(res))
}

func (l *Ledger) AppendBid(ctx context.Context, bid *models.Bid) error {
	b := *bid
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	encoded, err := json.Marshal(&b)
	if err != nil {
		return fmt.Errorf("failed to marshal bid: %w", err)
	}
	err = appendBidScript.Run(ctx, l.client,
		[]string{l.bidsKey(b.ItemID), l.bidVersionsKey(b.ItemID), l.bidderKey(b.BidderID)},
		b.Version, encoded, b.CreatedAt.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to append bid: %w", err)
	}
	return nil
}

func (l *Ledger) ListBids(ctx context.Context, itemID uuid.UUID, limit, offset int) ([]*models.Bid, error) {
	limit, offset = ledger.ClampPage(limit, offset)

	raw, err := l.client.LRange(ctx, l.bidsKey(itemID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	return decodeBids(raw)
}

// ListBidsByBidder reads the bidder index, scored by placement time.
func (l *Ledger) ListBidsByBidder(ctx context.Context, bidderID string, limit, offset int) ([]*models.Bid, error) {
	limit, offset = ledger.ClampPage(limit, offset)

	raw, err := l.client.ZRevRange(ctx, l.bidderKey(bidderID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list bidder bids: %w", err)
	}
	return decodeBids(raw)
}

func (l *Ledger) CountBidsByBidder(ctx context.Context, bidderID string) (int, error) {
	n, err := l.client.ZCard(ctx, l.bidderKey(bidderID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count bidder bids: %w", err)
	}
	return int(n), nil
}

func decodeBids(raw []string) ([]*models.Bid, error) {
	bids := make([]*models.Bid, 0, len(raw))
	for _, r := range raw {
		var b models.Bid
		if err := json.Unmarshal([]byte(r), &b); err != nil {
			return nil, fmt.Errorf("failed to decode bid: %w", err)
		}
		bids = append(bids, &b)
	}
	return bids, nil
}

func (l *Ledger) CountBids(ctx context.Context, itemID uuid.UUID) (int, error) {
	n, err := l.client.LLen(ctx, l.bidsKey(itemID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count bids: %w", err)
	}
	return int(n), nil
}

func (l *Ledger) CloseItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	res, err := closeItemScript.Run(ctx, l.client,
		[]string{l.itemKey(id), l.liveKey()},
		l.clock.Now().UnixMilli(), id.String(),
	).Slice()
	if errors.Is(err, goredis.Nil) {
		return nil, ledger.ErrNoMatch
	}
	if err != nil {
		return nil, fmt.Errorf("failed to run close script: %w", err)
	}
	return decodeItem(pairs(res))
}

func (l *Ledger) ListLiveItems(ctx context.Context) ([]*models.AuctionItem, error) {
	ids, err := l.client.ZRange(ctx, l.liveKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list live items: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := l.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		cmds = append(cmds, pipe.HGetAll(ctx, l.itemKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load live items: %w", err)
	}

	items := make([]*models.AuctionItem, 0, len(cmds))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		item, err := decodeItem(fields)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (l *Ledger) Close() error {
	return l.client.Close()
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// pairs turns a flat HGETALL reply into a field map.
func pairs(res []interface{}) map[string]string {
	out := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		out[k] = v
	}
	return out
}

func decodeItem(f map[string]string) (*models.AuctionItem, error) {
	id, err := uuid.Parse(f["id"])
	if err != nil {
		return nil, fmt.Errorf("failed to decode item id: %w", err)
	}
	starting, err := decimal.NewFromString(f["starting_price"])
	if err != nil {
		return nil, fmt.Errorf("failed to decode starting price: %w", err)
	}
	current, err := decimal.NewFromString(f["current_bid"])
	if err != nil {
		return nil, fmt.Errorf("failed to decode current bid: %w", err)
	}
	version, err := strconv.ParseInt(f["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode version: %w", err)
	}

	item := &models.AuctionItem{
		ID:             id,
		Title:          f["title"],
		Description:    f["description"],
		StartingPrice:  starting,
		CurrentBid:     current,
		AuctionEndTime: millis(f["auction_end_time"]),
		Status:         models.ItemStatus(f["status"]),
		Version:        version,
		CreatedAt:      millis(f["created_at"]),
		UpdatedAt:      millis(f["updated_at"]),
	}
	if v := f["highest_bidder_id"]; v != "" {
		item.HighestBidderID = &v
	}
	if v := f["winner_id"]; v != "" {
		item.WinnerID = &v
	}
	if v := f["final_price"]; v != "" {
		price, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("failed to decode final price: %w", err)
		}
		item.FinalPrice = &price
	}
	return item, nil
}

func millis(s string) time.Time {
	ms, _ := strconv.ParseInt(s, 10, 64)
	return time.UnixMilli(ms).UTC()
}
