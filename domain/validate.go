package domain

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	hexColorPattern = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)
	dueDateLayouts  = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}
)

// fieldMessages maps "<json field>.<tag>" to the message returned to clients.
var fieldMessages = map[string]string{
	"title.required":  "Title is required",
	"title.max":       "Title cannot exceed %s characters",
	"description.max": "Description cannot exceed %s characters",
	"color.hexcolor6": "Color must be a valid hex color code",
	"status.oneof":    "Status must be pending, in-progress, or completed",
	"priority.oneof":  "Priority must be low, medium, or high",
	"dueDate.duedate": "Due date must be a valid date",
	"order.min":       "Order must be a non-negative integer",
	"order.max":       "Order cannot exceed %s",
}

// MaxOrder is the largest position every store can hold.
const MaxOrder = math.MaxInt32

type boardRules struct {
	Title       string `json:"title" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
	Color       string `json:"color" validate:"hexcolor6"`
}

type todoRules struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=1000"`
	Status      string `json:"status" validate:"oneof=pending in-progress completed"`
	Priority    string `json:"priority" validate:"oneof=low medium high"`
	DueDate     string `json:"dueDate" validate:"omitempty,duedate"`
	Order       int    `json:"order" validate:"min=0,max=2147483647"`
}

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		if err := validate.RegisterValidation("hexcolor6", func(fl validator.FieldLevel) bool {
			return hexColorPattern.MatchString(fl.Field().String())
		}); err != nil {
			panic(err)
		}
		if err := validate.RegisterValidation("duedate", func(fl validator.FieldLevel) bool {
			_, err := ParseDueDate(fl.Field().String())
			return err == nil
		}); err != nil {
			panic(err)
		}
	})
	return validate
}

func check(rules any) error {
	err := getValidator().Struct(rules)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: messageFor(fe)})
	}
	return out
}

func messageFor(fe validator.FieldError) string {
	tmpl, ok := fieldMessages[fe.Field()+"."+fe.Tag()]
	if !ok {
		return fmt.Sprintf("%s failed on the '%s' rule", fe.Field(), fe.Tag())
	}
	if strings.Contains(tmpl, "%s") {
		return fmt.Sprintf(tmpl, fe.Param())
	}
	return tmpl
}

// nonBlank returns the trimmed value of an optional field and whether it
// carries anything.
func nonBlank(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	v := strings.TrimSpace(*p)
	return v, v != ""
}

// NormalizeColor returns a valid hex color as "#RRGGBB" in upper case.
func NormalizeColor(c string) string {
	return "#" + strings.ToUpper(strings.TrimPrefix(c, "#"))
}

// ParseDueDate accepts RFC 3339 timestamps and plain calendar dates.
func ParseDueDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid due date %q", s)
}
