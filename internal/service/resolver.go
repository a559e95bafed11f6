package service

import (
	"context"

	"ticketing-service/internal/models"
	"ticketing-service/internal/util"

	"go.uber.org/zap"
)

// PurchaseFinder locates purchases by reference number.
type PurchaseFinder interface {
	GetPurchaseByReference(ctx context.Context, referenceNumber string) (*models.Purchase, error)
}

// ReferenceResolver maps a business reference number to the current
// purchase record. Lookup anomalies (store.ErrNotFound,
// store.ErrAmbiguousReference) pass through unchanged so callers can
// discriminate them.
type ReferenceResolver struct {
	purchases PurchaseFinder
	logger    *zap.Logger
}

// NewReferenceResolver creates a new reference resolver
func NewReferenceResolver(purchases PurchaseFinder) *ReferenceResolver {
	return &ReferenceResolver{
		purchases: purchases,
		logger:    util.NamedLogger("resolver"),
	}
}

// Resolve returns the single purchase for a reference number
func (rr *ReferenceResolver) Resolve(ctx context.Context, referenceNumber string) (*models.Purchase, error) {
	ctx, span := util.StartSpan(ctx, "ReferenceResolver.Resolve")
	defer span.End()

	purchase, err := rr.purchases.GetPurchaseByReference(ctx, referenceNumber)
	if err != nil {
		rr.logger.Warn("Reference lookup failed",
			zap.String("reference", referenceNumber),
			zap.Error(err))
		return nil, err
	}

	return purchase, nil
}
