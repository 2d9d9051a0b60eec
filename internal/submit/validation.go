package submit

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/prominence-eu/prominence/internal/common/prominenceerrors"
	"github.com/prominence-eu/prominence/internal/model"
)

var jobNameRegex = regexp.MustCompile(`^[a-zA-Z0-9\-\_\s\/\.]+$`)

func newValidator() *validator.Validate {
	validate := validator.New()
	// The validator can only fail to register a tag with an empty name or a nil function.
	_ = validate.RegisterValidation("jobname", func(fl validator.FieldLevel) bool {
		return jobNameRegex.MatchString(fl.Field().String())
	})
	return validate
}

// validateJob returns an ErrInvalidArgument naming the first invalid field of job.
func validateJob(validate *validator.Validate, job *model.Job) error {
	err := validate.Struct(job)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return errors.WithStack(err)
	}
	fieldErr := validationErrors[0]
	return errors.WithStack(&prominenceerrors.ErrInvalidArgument{
		Name:    fieldName(fieldErr.Namespace()),
		Value:   fmt.Sprint(fieldErr.Value()),
		Message: "failed on " + fieldErr.Tag() + " " + fieldErr.Param(),
	})
}

// fieldName turns Job.Resources.Cpus into resources.cpus.
func fieldName(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		if part != "" {
			parts[i] = strings.ToLower(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, ".")
}
