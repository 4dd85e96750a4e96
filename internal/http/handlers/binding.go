package handlers

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/tbourn/brandsafe-backend/internal/domain"
)

var registerOnce sync.Once

// registerValidators adds the custom struct tags used by request DTOs to
// gin's validator engine:
//
//	inputkind  value is one of text, image, url
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("inputkind", func(fl validator.FieldLevel) bool {
			return domain.InputKind(fl.Field().String()).Valid()
		})
	})
}

// bindingMessage renders the first validation failure of a binding error as
// a short client-facing message.
func bindingMessage(err error, fallback string) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fallback
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "inputkind":
		return "input_type must be one of text, image, url"
	case "email":
		return field + " must be a valid email address"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	}
	return field + " is invalid"
}
