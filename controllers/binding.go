package controllers

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	apperrors "byteme/errors"
)

var registerOnce sync.Once

// jsonFieldNames makes validation errors report the json name of a field.
func jsonFieldNames() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// bindJSON decodes and validates the request body. The first failing field
// decides the message.
func bindJSON(c *gin.Context, v interface{}) error {
	registerOnce.Do(jsonFieldNames)

	err := c.ShouldBindJSON(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		detail := apperrors.ValidationDetail{Field: fe.Field(), Message: fe.Tag()}
		switch fe.Tag() {
		case "required":
			return apperrors.MissingField(fe.Field())
		case "email":
			return apperrors.NewValidationError("Invalid email format", detail)
		default:
			return apperrors.NewValidationError(fmt.Sprintf("Invalid value for field: %s", fe.Field()), detail)
		}
	}
	if errors.Is(err, io.EOF) {
		return apperrors.NewValidationError("Request body is required")
	}
	return apperrors.NewValidationError("Invalid JSON body", apperrors.ValidationDetail{Field: "body", Message: err.Error()})
}
