package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/railzwaylabs/insightpass/internal/config"
	entdomain "github.com/railzwaylabs/insightpass/internal/entitlement/domain"
)

// Error reports the first field that failed validation. It never wraps a
// store or provider failure.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func Errorf(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

// Validator checks request structs using `validate` tags plus the
// payment-specific tags amount, currency, plan and nonblank.
type Validator struct {
	v          *validator.Validate
	currencies map[string]struct{}
	minAmount  int64
	maxAmount  int64
}

func New(cfg config.Config) *Validator {
	return NewWithPayments(cfg.Payments)
}

func NewWithPayments(cfg config.PaymentsConfig) *Validator {
	out := &Validator{
		v:          validator.New(validator.WithRequiredStructEnabled()),
		currencies: make(map[string]struct{}, len(cfg.Currencies)),
		minAmount:  cfg.MinAmount,
		maxAmount:  cfg.MaxAmount,
	}
	for _, c := range cfg.Currencies {
		out.currencies[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}

	out.v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = out.v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		n := fl.Field().Int()
		return n >= out.minAmount && n <= out.maxAmount
	})
	_ = out.v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		return out.SupportsCurrency(fl.Field().String())
	})
	_ = out.v.RegisterValidation("plan", func(fl validator.FieldLevel) bool {
		_, err := entdomain.ParsePlanID(fl.Field().String())
		return err == nil
	})
	_ = out.v.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return out
}

func (v *Validator) SupportsCurrency(code string) bool {
	_, ok := v.currencies[strings.ToLower(strings.TrimSpace(code))]
	return ok
}

// Struct validates s and converts the first failure into *Error.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &Error{Reason: err.Error()}
	}
	fe := fieldErrs[0]
	return &Error{Field: fe.Field(), Reason: v.reason(fe)}
}

func (v *Validator) reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "amount":
		return fmt.Sprintf("must be an integer between %d and %d", v.minAmount, v.maxAmount)
	case "currency":
		return "is not a supported currency"
	case "plan":
		return "must be one of one-time, weekly, monthly"
	case "uuid":
		return "must be a valid UUID"
	case "nonblank":
		return "must not be empty"
	}
	return "is invalid"
}
