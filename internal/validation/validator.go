// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package validation validates decoded API request parameters with
// go-playground/validator and turns failures into API error bodies.
//
//	type AuditQuery struct {
//	    Limit   int    `query:"limit" validate:"min=1,max=1000"`
//	    Subject string `query:"subject" validate:"omitempty,icaohex"`
//	}
//
//	if verr := validation.ValidateStruct(&q); verr != nil {
//	    apiErr := verr.ToAPIError()
//	    respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message)
//	}
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrorCode is the API error code of every validation failure.
const ErrorCode = "VALIDATION_ERROR"

var (
	validate     *validator.Validate
	validateOnce sync.Once

	// icaoHexPattern matches a normalized 24-bit address; a leading ~ marks
	// a non-ICAO (TIS-B) address.
	icaoHexPattern = regexp.MustCompile(`^~?[0-9a-f]{6}$`)
)

// FieldError is one failed field.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

// RequestValidationError collects every failed field of one request.
type RequestValidationError struct {
	errors []FieldError
}

// Errors returns the failed fields.
func (ve *RequestValidationError) Errors() []FieldError { return ve.errors }

func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(ve.errors))
	for _, e := range ve.errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// APIError mirrors api.ErrorBody without importing it.
type APIError struct {
	Code    string
	Message string
}

// ToAPIError converts the failures into one API error.
func (ve *RequestValidationError) ToAPIError() *APIError {
	return &APIError{Code: ErrorCode, Message: ve.Error()}
}

// GetValidator returns the shared validator. Field names in messages come
// from the query or json tag so they match what the caller sent.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"query", "json"} {
				name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
				if name != "" && name != "-" {
					return name
				}
			}
			return fld.Name
		})
		// Registration only fails on an empty tag or nil func.
		_ = validate.RegisterValidation("icaohex", func(fl validator.FieldLevel) bool {
			return icaoHexPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// ValidateStruct returns nil when s passes.
func ValidateStruct(s any) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &RequestValidationError{errors: []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}}
	}
	out := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		out[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: translateError(fe),
		}
	}
	return &RequestValidationError{errors: out}
}

var errorMessageTemplates = map[string]string{
	"required": "%s is required",
	"icaohex":  "%s must be a 6 digit hex address",
}

var errorMessageWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"min":   "%s must be at least %s",
	"max":   "%s must be at most %s",
}

func translateError(fe validator.FieldError) string {
	if t, ok := errorMessageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(t, fe.Field())
	}
	if t, ok := errorMessageWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(t, fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
