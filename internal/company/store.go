package company

import (
	"context"

	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/store"
)

// Store is the persistence subset the company finder needs.
type Store interface {
	ListCompanies(ctx context.Context, filter store.EntityFilter) ([]model.Company, error)
	CreateCompany(ctx context.Context, c *model.Company) error
}
