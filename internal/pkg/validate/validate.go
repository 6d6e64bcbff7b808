package validate

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// v is the package-level singleton validator. It is initialised once at
// package load time; the tag-name func reports JSON field names so clients
// see the identifiers they sent.
var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	// maxbytes bounds the UTF-8 byte length of a string; bcrypt refuses
	// passwords longer than 72 bytes.
	_ = val.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			panic(fmt.Sprintf("validate: bad maxbytes param %q", fl.Param()))
		}
		return len(fl.Field().String()) <= limit
	})
	return val
}

// FieldErrors maps a JSON field name to the rule it failed.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", k, fe[k]))
	}
	return strings.Join(msgs, "; ")
}

// Struct validates the given struct using its validate tags.
// Returns FieldErrors for rule violations, or nil.
func Struct(s interface{}) error {
	if err := v.Struct(s); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		fe := FieldErrors{}
		for _, e := range ve {
			fe[e.Field()] = e.Tag()
		}
		return fe
	}
	return nil
}
