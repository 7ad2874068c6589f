package nsaerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfUnwrapsError(t *testing.T) {
	base := New(KindResourceUnavailable, "no labels left")
	wrapped := fmt.Errorf("reserve failed: %w", base)
	assert.Equal(t, KindResourceUnavailable, KindOf(wrapped))
}

func TestKindOfNonNSAError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestAggregateSharedKind(t *testing.T) {
	children := []ChildError{
		{OrderID: 0, Provider: "a", Err: New(KindResourceUnavailable, "x")},
		{OrderID: 1, Provider: "b", Err: New(KindResourceUnavailable, "y")},
	}
	agg := Aggregate(children, true)
	assert.Equal(t, KindResourceUnavailable, agg.Kind)
}

func TestAggregateMixedKindsDefaultsToConnectionCreate(t *testing.T) {
	children := []ChildError{
		{OrderID: 0, Provider: "a", Err: New(KindResourceUnavailable, "x")},
		{OrderID: 1, Provider: "b", Err: New(KindCallbackTimeout, "y")},
	}
	agg := Aggregate(children, true)
	assert.Equal(t, KindConnectionCreate, agg.Kind)
}

func TestAggregateMixedKindsDefaultsToConnectionForNonCreate(t *testing.T) {
	children := []ChildError{
		{OrderID: 0, Provider: "a", Err: New(KindResourceUnavailable, "x")},
		{OrderID: 1, Provider: "b", Err: New(KindCallbackTimeout, "y")},
	}
	agg := Aggregate(children, false)
	assert.Equal(t, KindConnection, agg.Kind)
}
