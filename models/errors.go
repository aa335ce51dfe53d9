package models

import (
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"github.com/go-playground/validator/v10"
)

// ValidationError reports input that violates a business rule. Nothing was written.
type ValidationError struct {
	Field   string
	Message string
	// per-field tags from struct validation, if any
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NotFoundError reports a referenced record that does not exist.
type NotFoundError struct {
	Resource string
	Id       int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.Id)
}

// PersistenceError wraps a storage failure. The surrounding transaction was rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func newValidationError(field string, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func newNotFoundError(resource string, id int) error {
	return &NotFoundError{Resource: resource, Id: id}
}

// wrapPersistence leaves typed errors alone and wraps everything else.
func wrapPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var v *ValidationError
	var nf *NotFoundError
	var pe *PersistenceError
	if errors.As(err, &v) || errors.As(err, &nf) || errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// fromStructValidation turns validator tag failures into a ValidationError.
func fromStructValidation(prefix string, err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return &ValidationError{Field: prefix, Message: err.Error()}
	}
	first := validationErrors[0]
	field := first.Field()
	if prefix != "" {
		field = prefix + "." + field
	}
	return &ValidationError{
		Field:   field,
		Message: "failed on the '" + first.Tag() + "' rule",
		Fields:  utils.ProcessValidationErrors(err),
	}
}
