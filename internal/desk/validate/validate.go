// Package validate holds the client-side checks run before a request is built.
package validate

import (
	"fmt"
	"regexp"
	"strings"
)

var emailRx = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// FieldError is one failed field check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError blocks a submission before it reaches the network.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("validation failed: %s: %s", e.Fields[0].Field, e.Fields[0].Message)
	}
	return fmt.Sprintf("validation failed: %d fields", len(e.Fields))
}

// Errors collects field errors; Err returns nil when nothing was added.
type Errors struct {
	fields []FieldError
}

func (v *Errors) Add(field, message string) {
	v.fields = append(v.fields, FieldError{Field: field, Message: message})
}

// Required adds "<label> is required" when value is blank.
func (v *Errors) Required(field, label, value string) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, label+" is required")
	}
}

func (v *Errors) Err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}

// WorkerForm checks a worker create/update form. Password is validated only
// when isNew is set or a password was supplied.
func WorkerForm(name, email, password string, isNew bool) error {
	var v Errors
	if len(strings.TrimSpace(name)) < 2 {
		v.Add("name", "Name must be at least 2 characters long")
	}
	if !emailRx.MatchString(email) {
		v.Add("email", "Please enter a valid email address")
	}
	switch {
	case password == "" && isNew:
		v.Add("password", "Password is required")
	case password != "" && len(password) < 6:
		v.Add("password", "Password must be at least 6 characters long")
	}
	return v.Err()
}

// ItemForm checks a catalog item form.
func ItemForm(name string, stock int) error {
	var v Errors
	v.Required("name", "Name", name)
	if stock < 0 {
		v.Add("stock", "Stock cannot be negative")
	}
	return v.Err()
}

// ProductForm checks a product tag form.
func ProductForm(name string) error {
	var v Errors
	v.Required("name", "Name", name)
	return v.Err()
}
