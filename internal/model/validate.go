package model

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var hhmm = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator with the domain rules registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
			return hhmm.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
			d := fl.Field().Int()
			return d >= 0 && d <= 6
		})
		v.RegisterStructValidation(func(sl validator.StructLevel) {
			s := sl.Current().Interface().(Schedule)
			if hhmm.MatchString(s.StartTime) && hhmm.MatchString(s.EndTime) && s.EndTime <= s.StartTime {
				sl.ReportError(s.EndTime, "endTime", "EndTime", "after_start", "")
			}
		}, Schedule{})
		validate = v
	})
	return validate
}

// Validate checks s against its struct tags and returns a readable error
// naming the first failing fields.
func Validate(s any) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, describe(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "hhmm":
		return field + " must be a HH:mm time"
	case "weekday":
		return field + " must be a day between 0 (Sunday) and 6 (Saturday)"
	case "after_start":
		return field + " must be after startTime"
	case "email":
		return field + " must be a valid email"
	case "min", "max":
		return fmt.Sprintf("%s must be %s %s", field, map[string]string{"min": "at least", "max": "at most"}[fe.Tag()], fe.Param())
	case "eqfield":
		return field + " must match " + lowerFirst(fe.Param())
	}
	return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
