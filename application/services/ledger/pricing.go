package ledger

import (
	"context"

	"go.uber.org/zap"

	"loci/application/ports"
	"loci/domain/core/entities"
	pkgerrors "loci/pkg/errors"
)

// PricingSource says where a price came from.
type PricingSource string

const (
	PricingStatic  PricingSource = "static"
	PricingStored  PricingSource = "stored"
	PricingDefault PricingSource = "default"
)

// PricingResolver looks a model up in the static table, then in storage,
// and prices it at zero when neither knows it.
type PricingResolver struct {
	table  ports.PriceTable
	stored ports.PricingRepository
	logger *zap.Logger
}

// NewPricingResolver creates a resolver. Either source may be nil.
func NewPricingResolver(table ports.PriceTable, stored ports.PricingRepository, logger *zap.Logger) *PricingResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PricingResolver{table: table, stored: stored, logger: logger}
}

// Resolve returns the pricing for modelID. Storage errors other than
// NOT_FOUND are returned rather than priced at zero.
func (r *PricingResolver) Resolve(ctx context.Context, modelID string) (*entities.ModelPricing, PricingSource, error) {
	if modelID == "" {
		return zeroPricing(modelID), PricingDefault, nil
	}
	if r.table != nil {
		if pricing, ok := r.table.Lookup(modelID); ok {
			return pricing, PricingStatic, nil
		}
	}
	if r.stored != nil {
		pricing, err := r.stored.GetModelPricing(ctx, modelID)
		switch {
		case err == nil:
			return pricing, PricingStored, nil
		case !pkgerrors.IsNotFound(err):
			return nil, "", err
		}
	}

	r.logger.Debug("No pricing for model, charging nothing", zap.String("model", modelID))
	return zeroPricing(modelID), PricingDefault, nil
}

func zeroPricing(modelID string) *entities.ModelPricing {
	return &entities.ModelPricing{ModelID: modelID}
}
