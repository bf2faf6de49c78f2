package settlement

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate rejects malformed expenses before they reach the balance
// calculator. Nothing is coerced: an unknown split kind is an error.
func (e Expense) Validate() error {
	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{Field: fieldPath(fe.Namespace()), Reason: "failed on " + fe.Tag()}
		}
		return &ValidationError{Reason: err.Error()}
	}
	if !e.TotalAmount.IsPositive() {
		return &ValidationError{Field: "totalAmount", Reason: "must be positive"}
	}

	kind := e.Payees[0].Kind
	seen := make(map[string]struct{}, len(e.Payees))
	sum := decimal.Zero
	for _, p := range e.Payees {
		if p.Kind != PayeeEqual && p.Kind != PayeeWeighted {
			return &ValidationError{Field: "payees", Reason: "unrecognized split kind " + p.Kind.String()}
		}
		if p.Kind != kind {
			return &ValidationError{Field: "payees", Reason: "cannot mix equal and weighted payees"}
		}
		if _, dup := seen[p.ID]; dup {
			return &ValidationError{Field: "payees", Reason: "duplicate payee " + p.ID}
		}
		seen[p.ID] = struct{}{}
		if p.Kind == PayeeWeighted {
			if p.Amount.IsNegative() {
				return &ValidationError{Field: "payees", Reason: "negative share for " + p.ID}
			}
			sum = sum.Add(p.Amount)
		}
	}
	if kind == PayeeWeighted && sum.Sub(e.TotalAmount).Abs().GreaterThan(Epsilon) {
		return &ValidationError{Field: "payees", Reason: "shares sum to " + sum.StringFixed(2) + ", expected " + e.TotalAmount.StringFixed(2)}
	}
	return nil
}

// fieldPath drops the struct name prefix from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
