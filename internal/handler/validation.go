package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/transflow/api/pkg/response"
)

// bind parses the JSON body into req and validates it. On failure the error
// response has already been written and ok is false.
func bind(c *fiber.Ctx, v *validator.Validate, req interface{}) (ok bool, err error) {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(req); err != nil {
			return false, response.ValidationError(c, "Invalid request body", nil)
		}
	}
	if err := v.Struct(req); err != nil {
		return false, response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	return true, nil
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
