package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/window"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the shared validator. Field names in its errors are the
// environment variable names from the env tag.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			if name := fld.Tag.Get("env"); name != "" {
				return name
			}
			return fld.Name
		})
	})
	return validate
}

// Error reports every configuration problem found in one pass.
type Error struct {
	// Missing lists required variables that are unset.
	Missing []string

	// Invalid lists the remaining problems.
	Invalid []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required environment variables: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid configuration: "+strings.Join(e.Invalid, "; "))
	}
	if len(parts) == 0 {
		return "invalid configuration"
	}
	return strings.Join(parts, "; ")
}

// Validate checks field rules, parses the date range into Start and End, and
// checks that the selected backends can work together.
func (c *Config) Validate() error {
	cerr := &Error{}

	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate configuration: %w", err)
		}
		for _, fe := range verrs {
			switch fe.Tag() {
			case "required", "required_if":
				cerr.Missing = append(cerr.Missing, fe.Field())
			default:
				cerr.Invalid = append(cerr.Invalid, describe(fe))
			}
		}
	}

	c.validateDates(cerr)
	c.validateBackends(cerr)

	if len(cerr.Missing) > 0 || len(cerr.Invalid) > 0 {
		sort.Strings(cerr.Missing)
		return cerr
	}
	return nil
}

func (c *Config) validateDates(cerr *Error) {
	var startOK, endOK bool
	if c.StartDate != "" {
		start, err := window.ParseDate(c.StartDate)
		if err != nil {
			cerr.Invalid = append(cerr.Invalid, fmt.Sprintf("START_DATE must be YYYY-MM-DD, got %q", c.StartDate))
		} else {
			c.Start, startOK = start, true
		}
	}
	if c.EndDate != "" {
		end, err := window.ParseDate(c.EndDate)
		if err != nil {
			cerr.Invalid = append(cerr.Invalid, fmt.Sprintf("END_DATE must be YYYY-MM-DD, got %q", c.EndDate))
		} else {
			c.End, endOK = end, true
		}
	}
	if startOK && endOK && c.End.Before(c.Start) {
		cerr.Invalid = append(cerr.Invalid, fmt.Sprintf("END_DATE %s is before START_DATE %s", c.EndDate, c.StartDate))
	}
}

func (c *Config) validateBackends(cerr *Error) {
	// BigQuery load jobs read the staging blob by gs:// URI.
	if c.Warehouse.Backend == WarehouseBigQuery && c.Storage.Backend != StorageGCS {
		cerr.Invalid = append(cerr.Invalid, fmt.Sprintf(
			"WAREHOUSE_BACKEND=bigquery requires STORAGE_BACKEND=gcs, got %q", c.Storage.Backend))
	}
	if c.Storage.Backend == StorageS3 && c.Storage.S3.Endpoint == "" {
		cerr.Missing = append(cerr.Missing, "S3_ENDPOINT")
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fmt.Sprint(fe.Value()))
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
