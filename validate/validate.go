package validate

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/es"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	es_translations "github.com/go-playground/validator/v10/translations/es"
	"github.com/google/uuid"
)

var validate *validator.Validate

var translator ut.Translator

func init() {

	validate = validator.New()

	// Failures name the field the storefront sent, not the Go one.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	translator, _ = ut.New(es.New(), es.New()).GetTranslator("es")
	es_translations.RegisterDefaultTranslations(validate, translator)

	validate.RegisterValidation("bankcode", bankCode)
	validate.RegisterTranslation("bankcode", translator,
		func(t ut.Translator) error {
			return t.Add("bankcode", "{0} no es un código de banco válido", true)
		},
		func(t ut.Translator, fe validator.FieldError) string {
			msg, _ := t.T("bankcode", fe.Field())
			return msg
		},
	)
}

// bankCode accepts the numeric PSE bank codes.
func bankCode(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || len(s) > 10 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Check validates val and reports the first failure in Spanish.
func Check(val any) error {
	if err := validate.Struct(val); err != nil {

		verrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}

		if len(verrors) < 1 {
			return nil
		}

		return errors.New(verrors[0].Translate(translator))
	}

	return nil
}

// GenerateID returns a random identifier, used as idempotency key.
func GenerateID() string {
	return uuid.NewString()
}
