package telemetry

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func schema() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// Report JSON field names so diagnostics match the wire format.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		// Infinities pass gte=0 but cannot be encoded as JSON.
		if err := validate.RegisterValidation("finite", isFinite); err != nil {
			panic(err)
		}
	})
	return validate
}

func isFinite(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Float32, reflect.Float64:
		f := fl.Field().Float()
		return !math.IsInf(f, 0) && !math.IsNaN(f)
	}
	return true
}

// KindOf returns the kind of a concrete event value.
func KindOf(event any) (Kind, bool) {
	switch event.(type) {
	case RatingEvent, *RatingEvent:
		return KindRating, true
	case FeedbackEvent, *FeedbackEvent:
		return KindFeedback, true
	case PerformanceMetric, *PerformanceMetric:
		return KindMetric, true
	}
	return "", false
}

// Validate checks a fully stamped event against its schema.
func Validate(event any) error {
	kind, ok := KindOf(event)
	if !ok {
		return &ValidationError{Field: "kind", Rule: "oneof", Value: reflect.TypeOf(event)}
	}
	return ValidateCandidate(kind, event)
}

// ValidateCandidate checks that candidate is an event of the declared kind and
// that every field satisfies its schema. It has no side effects.
func ValidateCandidate(kind Kind, candidate any) error {
	if !kind.Valid() {
		return &ValidationError{Kind: kind, Field: "kind", Rule: "oneof", Value: string(kind)}
	}
	actual, ok := KindOf(candidate)
	if !ok || actual != kind {
		return &ValidationError{Kind: kind, Field: "kind", Rule: "eq", Value: actual}
	}
	if reflect.ValueOf(candidate).Kind() == reflect.Ptr && reflect.ValueOf(candidate).IsNil() {
		return &ValidationError{Kind: kind, Field: "event", Rule: "required"}
	}

	err := schema().Struct(candidate)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{Kind: kind, Field: fe.Field(), Rule: fe.Tag(), Value: fe.Value()}
	}
	return &ValidationError{Kind: kind, Field: "event", Rule: err.Error()}
}
