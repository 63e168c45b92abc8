package db

import (
	"context"
	"testing"
)

type fakeQuerier struct{ Querier }

func TestQuerierFromContext(t *testing.T) {
	ctx := context.Background()

	if q := QuerierFromContext(ctx); q != nil {
		t.Error("expected nil querier from empty context")
	}

	fq := &fakeQuerier{}
	ctx = WithQuerier(ctx, fq)
	if q := QuerierFromContext(ctx); q != fq {
		t.Error("expected the querier stored in context to be returned")
	}
}
