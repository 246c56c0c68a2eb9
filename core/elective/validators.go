package elective

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/MrXof/ElectiveFlow/core"
)

var (
	policyTag  = "policy"
	policyText = "policy must be one of: uniform, priority, manual"
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(policyTag, policyValidation)
	core.RegisterCustomTranslation(validate, translator, policyTag, policyText)
}

// policyValidation checks that the field is one of the known Policies.
func policyValidation(fl validator.FieldLevel) bool {
	val := Policy(strings.ToLower(fl.Field().String()))
	for _, p := range Policies {
		if val == p {
			return true
		}
	}
	return false
}

func (no *NewOffering) Validate(validate *validator.Validate) error {
	no.Clean()
	return validate.Struct(no)
}

func (uo *UpdateOffering) Validate(validate *validator.Validate) error {
	return validate.Struct(uo)
}

func (nr NewRegistration) Validate(validate *validator.Validate) error {
	return validate.Struct(nr)
}
