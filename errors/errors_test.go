package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError_IsNotFoundError(t *testing.T) {
	err := NewNotFoundError("Order not found")

	nf, ok := IsNotFoundError(err)
	assert.True(t, ok)
	assert.Equal(t, "Order not found", nf.Message)
}

func TestNotFoundError_Wrapped(t *testing.T) {
	err := fmt.Errorf("loading order: %w", NewNotFoundError("Order not found"))

	nf, ok := IsNotFoundError(err)
	assert.True(t, ok)
	assert.Equal(t, "Order not found", nf.Message)
}

func TestNotFoundError_WithOtherError(t *testing.T) {
	nf, ok := IsNotFoundError(errors.New("boom"))
	assert.False(t, ok)
	assert.Nil(t, nf)
}

func TestMissingField(t *testing.T) {
	err := MissingField("customer_id")

	assert.Equal(t, "Missing required field: customer_id", err.Error())
	assert.Len(t, err.Details, 1)
	assert.Equal(t, "customer_id", err.Details[0].Field)
}

func TestConflictAndForbidden(t *testing.T) {
	_, ok := IsConflictError(NewConflictError("Order already exists"))
	assert.True(t, ok)

	_, ok = IsForbiddenError(NewForbiddenError("order belongs to another customer"))
	assert.True(t, ok)

	_, ok = IsConflictError(NewForbiddenError("nope"))
	assert.False(t, ok)
}

func TestUpstreamError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewUpstreamError("customer", http.StatusBadGateway, "request failed", cause)

	ue, ok := IsUpstreamError(fmt.Errorf("purchase: %w", err))
	assert.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, ue.Status)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "customer: request failed: connection refused", err.Error())
}

func TestInternalError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewInternalError("wrapper", cause)

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "no cause", NewInternalError("no cause", nil).Error())
}
