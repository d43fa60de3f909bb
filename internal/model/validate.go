package model

import (
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

// ErrInvalidVariant is returned when a variant fails ingestion validation.
var ErrInvalidVariant = eris.New("model: invalid contact variant")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the variant at the ingestion boundary.
func (v ContactVariant) Validate() error {
	if err := validatorInstance().Struct(v); err != nil {
		return eris.Wrapf(ErrInvalidVariant, "contact %q in org %q: %s", v.ContactID, v.OrganizationID, err.Error())
	}
	return nil
}

// FilterValid splits variants into valid ones and the validation errors of the rest.
func FilterValid(variants []ContactVariant) ([]ContactVariant, []error) {
	out := make([]ContactVariant, 0, len(variants))
	var errs []error
	for _, v := range variants {
		if err := v.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, v)
	}
	return out, errs
}
