// Package inventory is the stock ledger: reserve, release and commit of
// purchasable quantity per product.
package inventory

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
	"github.com/ariefcatur/go-marketplace-core/internal/metrics"
	"github.com/ariefcatur/go-marketplace-core/internal/observability"
)

// Ledger is the entry point used by the order builder, the state machine and
// the wishlist bridge.
type Ledger struct {
	store   Store
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewLedger(store Store, m *metrics.Metrics, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, metrics: m, logger: observability.OrNop(logger)}
}

// Reserve holds qty units of productID for ref.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int, ref string) (Token, error) {
	ctx, span := observability.StartSpan(ctx, "inventory.reserve",
		attribute.String("product.id", productID), attribute.Int("quantity", qty))
	tok, err := l.store.Reserve(ctx, productID, qty, ref)
	observability.EndSpan(span, err)

	l.metrics.Ledger("reserve", outcome(err))
	if err != nil {
		return Token{}, err
	}
	l.logger.Debug("stock reserved",
		zap.String("product_id", productID), zap.Int("qty", qty), zap.String("token", tok.ID), zap.String("ref", ref))
	return tok, nil
}

// Release frees the hold. Releasing twice is the same as releasing once.
func (l *Ledger) Release(ctx context.Context, tokenID string) (Token, error) {
	tok, err := l.store.Release(ctx, tokenID)
	l.metrics.Ledger("release", outcome(err))
	return tok, err
}

// Commit turns the hold into a permanent decrement.
func (l *Ledger) Commit(ctx context.Context, tokenID string) (Token, error) {
	tok, err := l.store.Commit(ctx, tokenID)
	l.metrics.Ledger("commit", outcome(err))
	return tok, err
}

// ReleaseAll releases every token, continuing past failures so one bad token
// cannot strand the others. The joined error is returned.
func (l *Ledger) ReleaseAll(ctx context.Context, tokenIDs []string) error {
	var errs []error
	for _, id := range tokenIDs {
		if _, err := l.Release(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CommitAll commits every token and stops at the first failure.
func (l *Ledger) CommitAll(ctx context.Context, tokenIDs []string) error {
	for _, id := range tokenIDs {
		if _, err := l.Commit(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Availability reads the stock record without taking a hold.
func (l *Ledger) Availability(ctx context.Context, productID string) (Stock, error) {
	return l.store.Stock(ctx, productID)
}

func (l *Ledger) SetStock(ctx context.Context, s Stock) error {
	return l.store.SetStock(ctx, s)
}

func (l *Ledger) Token(ctx context.Context, tokenID string) (Token, error) {
	return l.store.Token(ctx, tokenID)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}
