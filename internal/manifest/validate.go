package manifest

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"fabrick/internal/services"
)

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Struct tag validation covers shape; artifact kinds need the catalog.
	_ = v.RegisterValidation("artifactkind", func(fl validator.FieldLevel) bool {
		return KnownArtifact(ArtifactKind(fl.Field().String()))
	})
	return v
}()

// Validate checks the manifest against its declared constraints. Errors are
// tagged with the validation marker so callers can surface them to the
// manifest author instead of retrying.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		return services.Wrap(services.ErrValidation, "manifest", "validate", describeValidation(err), err)
	}

	seen := make(map[string]struct{}, len(m.Scenes))
	for _, scene := range m.Scenes {
		if _, dup := seen[scene.ID]; dup {
			return services.Wrap(services.ErrValidation, "manifest", "validate",
				fmt.Sprintf("duplicate scene id %q", scene.ID), nil)
		}
		seen[scene.ID] = struct{}{}
	}
	return nil
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if ok := asValidationErrors(err, &fieldErrs); ok && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return fmt.Sprintf("field %s failed %s constraint", first.Namespace(), first.Tag())
	}
	return "invalid manifest"
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	v, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = v
	return true
}
