//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/orderline/api/internal/platform/firestore"
	"github.com/orderline/api/internal/platform/firestore/firestoretest"
)

type counterDoc struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func TestCollectionAndTransactionIntegration(t *testing.T) {
	provider := firestoretest.NewProvider(t, "platform-test")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	coll := pfirestore.NewCollection[counterDoc](provider, "counters", nil)
	if err := coll.Set(ctx, "c-1", counterDoc{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	doc, err := coll.Get(ctx, "c-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.ID != "c-1" || doc.Data.Count != 1 {
		t.Fatalf("unexpected document: %#v", doc)
	}
	if doc.UpdateTime.IsZero() {
		t.Fatalf("expected update time to be set")
	}

	_, err = coll.Get(ctx, "missing")
	var ferr *pfirestore.Error
	if !errors.As(err, &ferr) || !ferr.IsNotFound() {
		t.Fatalf("expected not found error, got %v", err)
	}

	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := coll.Ref(ctx, "c-1")
		if err != nil {
			return err
		}
		current, err := coll.GetInTx(tx, ref)
		if err != nil {
			return err
		}
		current.Data.Count++
		return tx.Set(ref, current.Data)
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	docs, err := coll.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("count", ">=", 2)
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(docs) != 1 || docs[0].Data.Count != 2 {
		t.Fatalf("expected one counter at 2, got %#v", docs)
	}

	cancelCtx, cancelTx := context.WithCancel(context.Background())
	cancelTx()
	err = provider.RunTransaction(cancelCtx, func(context.Context, *firestore.Transaction) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}

	if err := provider.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := provider.Client(context.Background()); !errors.Is(err, pfirestore.ErrProviderClosed) {
		t.Fatalf("expected closed provider error, got %v", err)
	}
}
