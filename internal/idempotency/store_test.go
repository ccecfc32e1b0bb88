package idempotency_test

import (
	"context"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db/dbtest"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/idempotency"
)

func TestPostgresStore_SaveAndLookup(t *testing.T) {
	pg := dbtest.Start(t)
	ctx := context.Background()
	store := idempotency.NewStore(pg.Pool)

	_, err := store.Lookup(ctx, idempotency.KindCheckout, "abc")
	require.ErrorIs(t, err, idempotency.ErrRecordNotFound)

	rec := &idempotency.Record{
		Kind:     idempotency.KindCheckout,
		Key:      "abc",
		BuyerID:  uuid.Must(uuid.NewV4()),
		EntityID: uuid.Must(uuid.NewV4()),
	}
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Lookup(ctx, idempotency.KindCheckout, "abc")
	require.NoError(t, err)
	assert.Equal(t, rec.EntityID, got.EntityID)
	assert.Equal(t, idempotency.KindCheckout, got.Kind)

	// The same key under another operation kind is independent.
	_, err = store.Lookup(ctx, idempotency.KindPaymentCreate, "abc")
	require.ErrorIs(t, err, idempotency.ErrRecordNotFound)
}

func TestPostgresStore_ConcurrentSaveHasOneWinner(t *testing.T) {
	pg := dbtest.Start(t)
	ctx := context.Background()
	store := idempotency.NewStore(pg.Pool)
	buyerID := uuid.Must(uuid.NewV4())

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Save(ctx, &idempotency.Record{
				Kind:     idempotency.KindPaymentCreate,
				Key:      "retry-me",
				BuyerID:  buyerID,
				EntityID: uuid.Must(uuid.NewV4()),
			})
		}(i)
	}
	wg.Wait()

	var winners, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case assert.ErrorIs(t, err, idempotency.ErrKeyExists):
			conflicts++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, attempts-1, conflicts)
}

func TestPostgresStore_Release(t *testing.T) {
	pg := dbtest.Start(t)
	ctx := context.Background()
	store := idempotency.NewStore(pg.Pool)

	rec := &idempotency.Record{
		Kind:     idempotency.KindPaymentCreate,
		Key:      "release-me",
		BuyerID:  uuid.Must(uuid.NewV4()),
		EntityID: uuid.Must(uuid.NewV4()),
	}
	require.NoError(t, store.Save(ctx, rec))

	// Another entity cannot release the key.
	require.NoError(t, store.Release(ctx, rec.Kind, rec.Key, uuid.Must(uuid.NewV4())))
	_, err := store.Lookup(ctx, rec.Kind, rec.Key)
	require.NoError(t, err)

	require.NoError(t, store.Release(ctx, rec.Kind, rec.Key, rec.EntityID))
	_, err = store.Lookup(ctx, rec.Kind, rec.Key)
	require.ErrorIs(t, err, idempotency.ErrRecordNotFound)

	// The key is free for a fresh attempt.
	rec.EntityID = uuid.Must(uuid.NewV4())
	require.NoError(t, store.Save(ctx, rec))
}
