package validate

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/apperr"
)

// v is initialised once at package load time. Custom registrations happen in
// init before the first call to Struct.
var v = validator.New(validator.WithRequiredStructEnabled())

func init() {
	// "notblank" rejects strings that are empty after trimming whitespace.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// Struct validates s using its validate tags. Failures are wrapped in
// apperr.ErrValidation with a human-readable summary.
func Struct(s interface{}) error {
	if err := v.Struct(s); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
		}
		msgs := make([]string, 0, len(ve))
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", apperr.ErrValidation, strings.Join(msgs, "; "))
	}
	return nil
}

// Var validates a single value against a tag expression.
func Var(field interface{}, tag string) error {
	if err := v.Var(field, tag); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}

// Offset rejects a 1-based page whose (page-1)*limit offset does not fit in an int.
func Offset(page, limit int) error {
	if limit > 0 && page-1 > math.MaxInt/limit {
		return fmt.Errorf("%w: page %d is out of range", apperr.ErrValidation, page)
	}
	return nil
}
