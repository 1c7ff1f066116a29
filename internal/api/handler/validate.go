package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Rrens/langly/internal/api/response"
)

var validate = validator.New()

// decodeAndValidate reads a JSON body into v and validates it. On failure
// the error response has already been written.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.BadRequest(w, "invalid request body")
		return false
	}
	return validateStruct(w, v)
}

func validateStruct(w http.ResponseWriter, v any) bool {
	err := validate.Struct(v)
	if err == nil {
		return true
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		response.BadRequest(w, err.Error())
		return false
	}

	fields := make(map[string]string)
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			fields[field] = "field is required"
		case "max":
			fields[field] = "must be at most " + e.Param() + " characters"
		case "oneof":
			fields[field] = "must be one of: " + e.Param()
		default:
			fields[field] = "validation failed on " + e.Tag()
		}
	}
	response.BadRequest(w, fields)
	return false
}
