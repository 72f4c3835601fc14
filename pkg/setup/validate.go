package setup

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"roomchat/pkg/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by the names users paste, not the Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// MissingFieldsError lists the required credential fields that were absent.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

// Validate checks that the identification fields are present.
func Validate(creds domain.Credentials) error {
	err := validate.Struct(creds)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return &MissingFieldsError{Fields: missing}
}

// DeriveDatabaseURL builds the conventional database endpoint for a project.
func DeriveDatabaseURL(projectID string) string {
	return fmt.Sprintf("redis://%s-default-rtdb:6379", strings.TrimSpace(projectID))
}

// DerivedURLDeclinedError is returned when databaseURL was absent and the
// derived endpoint was not accepted.
type DerivedURLDeclinedError struct {
	Suggested string
}

func (e *DerivedURLDeclinedError) Error() string {
	return fmt.Sprintf("databaseURL is missing: add it to the configuration (suggested: %s)", e.Suggested)
}
