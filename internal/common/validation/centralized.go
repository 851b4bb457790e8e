package validation

import (
	stderrors "errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"live-timing/internal/common/errors"
)

// CentralizedValidator wraps go-playground/validator with readable messages
// and the tags shared by config and API requests.
type CentralizedValidator struct {
	validator *validator.Validate

	mu       sync.RWMutex
	messages map[string]string
}

// FieldError is a single structured validation failure
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// NewCentralizedValidator creates a validator with the built-in custom tags
func NewCentralizedValidator() *CentralizedValidator {
	v := validator.New()

	// Report json names, falling back to env names and then Go names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "env"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	cv := &CentralizedValidator{
		validator: v,
		messages:  make(map[string]string),
	}
	cv.registerBuiltins()
	return cv
}

// RegisterValidation adds a custom tag. message is a format string taking
// the field name.
func (cv *CentralizedValidator) RegisterValidation(tag, message string, fn func(value string) bool) error {
	cv.mu.Lock()
	defer cv.mu.Unlock()

	err := cv.validator.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return fn(fl.Field().String())
	})
	if err != nil {
		return errors.InternalError("registering validation tag "+tag, err)
	}
	cv.messages[tag] = message
	return nil
}

// ValidateStruct validates a struct using struct tags
func (cv *CentralizedValidator) ValidateStruct(s interface{}) error {
	if err := cv.validator.Struct(s); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

// ValidateVar validates a single variable with validation rules
func (cv *CentralizedValidator) ValidateVar(field interface{}, tag string) error {
	if err := cv.validator.Var(field, tag); err != nil {
		return cv.formatValidationErrors(err)
	}
	return nil
}

// FieldErrors returns the structured failures of s, or nil when it is valid
func (cv *CentralizedValidator) FieldErrors(s interface{}) []FieldError {
	err := cv.validator.Struct(s)
	if err == nil {
		return nil
	}
	return cv.extractFieldErrors(err)
}

func (cv *CentralizedValidator) registerBuiltins() {
	_ = cv.RegisterValidation("search_type", "field '%s' must be one of: team, driver, kart", func(value string) bool {
		switch value {
		case "", "team", "driver", "kart":
			return true
		}
		return false
	})

	_ = cv.RegisterValidation("host_port", "field '%s' must be host:port", func(value string) bool {
		host, port, err := net.SplitHostPort(value)
		return err == nil && port != "" && (host != "" || strings.HasPrefix(value, ":"))
	})

	_ = cv.RegisterValidation("log_level", "field '%s' must be one of: debug, info, warn, error", func(value string) bool {
		switch strings.ToLower(value) {
		case "debug", "info", "warn", "warning", "error":
			return true
		}
		return false
	})
}

// formatValidationErrors converts go-playground/validator errors to internal errors
func (cv *CentralizedValidator) formatValidationErrors(err error) error {
	fieldErrors := cv.extractFieldErrors(err)
	if len(fieldErrors) == 1 {
		return errors.ValidationError(fieldErrors[0].Message)
	}

	messages := make([]string, len(fieldErrors))
	for i, e := range fieldErrors {
		messages[i] = e.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func (cv *CentralizedValidator) extractFieldErrors(err error) []FieldError {
	var validationErrs validator.ValidationErrors
	if !stderrors.As(err, &validationErrs) {
		return []FieldError{{Field: "unknown", Tag: "error", Message: err.Error()}}
	}

	fieldErrors := make([]FieldError, 0, len(validationErrs))
	for _, fieldError := range validationErrs {
		fieldErrors = append(fieldErrors, FieldError{
			Field:   fieldError.Field(),
			Tag:     fieldError.Tag(),
			Value:   fmt.Sprintf("%v", fieldError.Value()),
			Message: cv.formatFieldError(fieldError),
			Param:   fieldError.Param(),
		})
	}
	return fieldErrors
}

// formatFieldError formats go-playground/validator field errors into readable messages
func (cv *CentralizedValidator) formatFieldError(err validator.FieldError) string {
	cv.mu.RLock()
	custom, ok := cv.messages[err.Tag()]
	cv.mu.RUnlock()
	if ok {
		return fmt.Sprintf(custom, err.Field())
	}

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", err.Field())
	case "url", "http_url":
		return fmt.Sprintf("field '%s' must be a valid URL", err.Field())
	case "min", "gte":
		return fmt.Sprintf("field '%s' must be at least %s", err.Field(), err.Param())
	case "max", "lte":
		return fmt.Sprintf("field '%s' must be at most %s", err.Field(), err.Param())
	case "gt":
		return fmt.Sprintf("field '%s' must be greater than %s", err.Field(), err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), err.Param())
	case "hostname", "fqdn":
		return fmt.Sprintf("field '%s' must be a valid hostname", err.Field())
	case "numeric":
		return fmt.Sprintf("field '%s' must be a number", err.Field())
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", err.Field(), err.Tag())
	}
}
