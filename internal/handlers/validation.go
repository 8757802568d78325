package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/charlesng35/hycredit/internal/models"
	appErrors "github.com/charlesng35/hycredit/pkg/errors"
	"github.com/charlesng35/hycredit/pkg/response"
	appValidator "github.com/charlesng35/hycredit/pkg/validator"
)

func init() {
	_ = appValidator.RegisterValidation("energy_source", func(fl validator.FieldLevel) bool {
		return models.EnergySource(fl.Field().String()).Valid()
	})
	_ = appValidator.RegisterValidation("document_slot", func(fl validator.FieldLevel) bool {
		return models.DocumentSlot(fl.Field().String()).Valid()
	})
}

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When validation fails, an error response is automatically written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Validation("invalid JSON payload").WithInternal(err))
		return false
	}
	return validatePayload(c, dest)
}

func validatePayload(c *gin.Context, dest any) bool {
	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.Validation("%s", formatValidationError(err)))
		return false
	}
	return true
}

func formatValidationError(err error) string {
	ve, ok := err.(appValidator.ValidationErrors)
	if !ok || len(ve) == 0 {
		return "invalid request payload"
	}

	messages := make([]string, 0, len(ve))
	for _, failure := range ve {
		field := failure.Field
		switch failure.Tag {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "gt":
			messages = append(messages, fmt.Sprintf("%s must be greater than %s", field, failure.Param))
		case "gte":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, failure.Param))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", field, failure.Param))
		case "decimal_positive":
			messages = append(messages, fmt.Sprintf("%s must be a positive amount", field))
		case "energy_source":
			messages = append(messages, fmt.Sprintf("%s must be one of %s", field, joinEnergySources()))
		case "document_slot":
			messages = append(messages, fmt.Sprintf("%s is not a recognised document slot", field))
		default:
			if failure.Param != "" {
				messages = append(messages, fmt.Sprintf("%s failed validation: %s=%s", field, failure.Tag, failure.Param))
			} else {
				messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, failure.Tag))
			}
		}
	}
	return strings.Join(messages, "; ")
}

func joinEnergySources() string {
	names := make([]string, len(models.EnergySources))
	for i, source := range models.EnergySources {
		names[i] = string(source)
	}
	return strings.Join(names, ", ")
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// pagination reads page and per_page query parameters.
func pagination(c *gin.Context) (int, int) {
	page := parseIntQuery(c, "page", 1)
	if page < 1 {
		page = 1
	}
	perPage := parseIntQuery(c, "per_page", 50)
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}
	return page, perPage
}

func pageMeta(page, perPage int, total int64) *response.Meta {
	pages := 0
	if perPage > 0 {
		pages = int((total + int64(perPage) - 1) / int64(perPage))
	}
	return &response.Meta{Page: page, PerPage: perPage, Total: int(total), TotalPages: pages}
}
