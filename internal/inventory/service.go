package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
)

// Ledger is the authoritative source of available quantity. Check is a plain
// read-and-compare; only Deduct changes stock.
type Ledger interface {
	Lookup(ctx context.Context, productID uuid.UUID, variantID uuid.NullUUID) (*StockLevel, error)
	Check(ctx context.Context, lines []Line) ([]StockLevel, error)
	Deduct(ctx context.Context, tx db.DBTX, lines []Line) error
}

type ledger struct {
	repo Repository
}

func NewLedger(repo Repository) Ledger {
	return &ledger{repo: repo}
}

func (l *ledger) Lookup(ctx context.Context, productID uuid.UUID, variantID uuid.NullUUID) (*StockLevel, error) {
	level, err := l.repo.GetStock(ctx, productID, variantID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("service: failed to look up stock: %w", err)
	}
	return level, nil
}

// Check returns the stock row for every line, in order, or an
// *InsufficientStockError for the first line that cannot be covered.
func (l *ledger) Check(ctx context.Context, lines []Line) ([]StockLevel, error) {
	levels := make([]StockLevel, 0, len(lines))
	for _, line := range lines {
		level, err := l.Lookup(ctx, line.ProductID, line.VariantID)
		if err != nil {
			return nil, err
		}
		if level.Quantity < line.Quantity {
			log.Warn().
				Stringer("product_id", line.ProductID).
				Int("available", level.Quantity).
				Int("requested", line.Quantity).
				Msg("service: insufficient stock")
			return nil, &InsufficientStockError{
				ProductID:   line.ProductID,
				ProductName: level.ProductName,
				Available:   level.Quantity,
				Requested:   line.Quantity,
			}
		}
		levels = append(levels, *level)
	}
	return levels, nil
}

// Deduct decrements stock for every line inside tx. Lines for the same
// product variant are merged and rows are updated in a stable order so that
// concurrent settlements lock inventory rows consistently.
func (l *ledger) Deduct(ctx context.Context, tx db.DBTX, lines []Line) error {
	repo := l.repo.WithTx(tx)
	for _, line := range mergeLines(lines) {
		if err := repo.Deduct(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

func mergeLines(lines []Line) []Line {
	merged := make(map[lineKey]int, len(lines))
	order := make([]lineKey, 0, len(lines))
	for _, line := range lines {
		k := line.key()
		if _, ok := merged[k]; !ok {
			order = append(order, k)
		}
		merged[k] += line.Quantity
	}

	sort.Slice(order, func(i, j int) bool {
		if c := bytes.Compare(order[i].productID.Bytes(), order[j].productID.Bytes()); c != 0 {
			return c < 0
		}
		return bytes.Compare(order[i].variantID.UUID.Bytes(), order[j].variantID.UUID.Bytes()) < 0
	})

	out := make([]Line, 0, len(order))
	for _, k := range order {
		out = append(out, Line{ProductID: k.productID, VariantID: k.variantID, Quantity: merged[k]})
	}
	return out
}
