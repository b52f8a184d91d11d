package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"fairweather/internal/types"
)

const maxLocationLength = 100

// ValidationError describes one failed field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with the domain tags:
//
//	event_type     a known event type (empty passes; pair with required)
//	location_name  printable text of at most 100 characters
//	event_date     YYYY-MM-DD or RFC 3339
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator builds a Validator and registers the custom tags.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	must := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("core: register %s: %v", tag, err))
		}
	}
	must("event_type", validateEventType)
	must("location_name", validateLocationName)
	must("event_date", validateEventDate)

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s. The returned AppError takes its code from the
// first failing field and lists every failure under details.validation_errors.
func (v *Validator) ValidateStruct(s any) error {
	errs := v.collect(s)
	if len(errs) == 0 {
		return nil
	}
	return types.NewAppErrorWithDetails(types.ErrorCode(errs[0].Code), errs[0].Message, nil,
		map[string]any{"validation_errors": errs})
}

func (v *Validator) collect(s any) []ValidationError {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		if v.logger != nil {
			v.logger.Error("unexpected validation failure", "error", err)
		}
		return []ValidationError{{Code: string(types.ErrCodeValidationFailed), Message: "invalid request"}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Code:    tagToErrorCode(fe.Tag()),
			Message: messageFor(fe),
		})
	}
	return out
}

func tagToErrorCode(tag string) string {
	switch tag {
	case "required":
		return string(types.ErrCodeValidationMissingField)
	case "event_type":
		return string(types.ErrCodeValidationUnknownType)
	case "location_name":
		return string(types.ErrCodeValidationInvalidLocation)
	case "event_date":
		return string(types.ErrCodeValidationInvalidDate)
	default:
		return string(types.ErrCodeValidationFailed)
	}
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "event_type":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), eventTypeList())
	case "location_name":
		return fmt.Sprintf("%s must be printable text of at most %d characters", fe.Field(), maxLocationLength)
	case "event_date":
		return fe.Field() + " must be YYYY-MM-DD or RFC 3339"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func eventTypeList() string {
	names := make([]string, len(types.EventTypes))
	for i, et := range types.EventTypes {
		names[i] = string(et)
	}
	return strings.Join(names, ", ")
}

func validateEventType(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	_, err := types.ParseEventType(s)
	return err == nil
}

func validateLocationName(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if s == "" {
		return true
	}
	if len([]rune(s)) > maxLocationLength {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func validateEventDate(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	_, err := types.ParseDate(s)
	return err == nil
}
