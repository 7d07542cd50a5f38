package handlers

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/pkg/tenancy"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseUUID reads a UUID path parameter
func ParseUUID(c echo.Context, param string) (string, error) {
	idStr := c.Param(param)
	if idStr == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "missing "+param)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return "", httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be a valid UUID", param)
	}

	return id.String(), nil
}

// Scope returns the tenant scope resolved by the tenancy middleware
func Scope(c echo.Context) (tenancy.Scope, error) {
	return tenancy.FromContext(c.Request().Context())
}

// Bind decodes the request body into req and validates it
func Bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}
	return nil
}

// QueryInt reads an optional integer query parameter
func QueryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be a non-negative integer", name)
	}
	return n, nil
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// CreatedResponse returns a 201 Created with data
func CreatedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, data)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}
