package config

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	sharedValidator *validator.Validate

	slotNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// validatorInstance returns the process-wide validator, registering Zerver's
// custom tags exactly once.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		sharedValidator = validator.New()
		_ = sharedValidator.RegisterValidation("computemode", validateComputeMode)
		_ = sharedValidator.RegisterValidation("joinmode", validateJoinMode)
		_ = sharedValidator.RegisterValidation("effectkind", validateEffectKind)
		_ = sharedValidator.RegisterValidation("slotname", validateSlotName)
	})
	return sharedValidator
}

func validateComputeMode(fl validator.FieldLevel) bool {
	switch ComputeMode(fl.Field().String()) {
	case ComputeDisabled, ComputeShared, ComputeDedicated:
		return true
	default:
		return false
	}
}

func validateJoinMode(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "all", "all_required", "any", "first_success":
		return true
	default:
		return false
	}
}

func validateEffectKind(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "http_get", "http_post", "http_put", "http_delete",
		"cache_get", "cache_set", "cache_delete", "compute":
		return true
	default:
		return false
	}
}

// validateSlotName checks a slot identifier looks like a valid Go
// identifier, the way isValidFilePath checks a filesystem path shape in the
// teacher's validator_instance.go.
func validateSlotName(fl validator.FieldLevel) bool {
	return slotNamePattern.MatchString(fl.Field().String())
}
