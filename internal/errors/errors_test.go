package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIErrorError(t *testing.T) {
	err := New(http.StatusBadRequest, KindMissingParameters, "bad input")
	assert.Equal(t, "bad input", err.Error())
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Equal(t, KindMissingParameters, err.Kind)
}

func TestMissingParametersListsFields(t *testing.T) {
	apiErr := MissingParameters([]string{"license_key", "hardware_id"})

	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, KindMissingParameters, apiErr.Kind)
	assert.Contains(t, apiErr.Message, "license_key")
	assert.Contains(t, apiErr.Message, "hardware_id")

	details, ok := apiErr.Details.([]ValidationError)
	require.True(t, ok)
	require.Len(t, details, 2)
	assert.Equal(t, "license_key", details[0].Field)
	assert.Equal(t, "is required", details[0].Message)
}

func TestInvalidBody(t *testing.T) {
	apiErr := InvalidBody(errors.New("unexpected EOF"))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "unexpected EOF")
}

func TestStoreUnavailableHidesCause(t *testing.T) {
	apiErr := StoreUnavailable()
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, KindStoreUnavailable, apiErr.Kind)
	assert.Nil(t, apiErr.Details)
}

func TestLicenseNotFound(t *testing.T) {
	apiErr := LicenseNotFound()
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, KindLicenseNotFound, apiErr.Kind)
}

func TestRouterErrors(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, ErrRouteNotFound.StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, ErrMethodNotAllowed.StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, ErrRateLimitExceeded.StatusCode)
	assert.Equal(t, http.StatusInternalServerError, ErrInternalServer.StatusCode)
	assert.Equal(t, KindUnknown, ErrInternalServer.Kind)
}

func TestClassifyLicenseError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrLicenseNotFound, KindLicenseNotFound},
		{ErrLicenseExpired, KindLicenseExpired},
		{ErrHardwareMismatch, KindHardwareMismatch},
		{ErrDomainNotAuthorized, KindDomainNotAuthorized},
		{ErrAlreadyActivatedElsewhere, KindAlreadyActivatedElsewhere},
		{ErrStoreUnavailable, KindStoreUnavailable},
		{fmt.Errorf("activate: %w", ErrAlreadyActivatedElsewhere), KindAlreadyActivatedElsewhere},
		{fmt.Errorf("store: %w", ErrStoreUnavailable), KindStoreUnavailable},
		{errors.New("disk on fire"), KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyLicenseError(tt.err))
	}
}

func TestIsBusinessError(t *testing.T) {
	assert.True(t, IsBusinessError(ErrLicenseExpired))
	assert.True(t, IsBusinessError(fmt.Errorf("wrapped: %w", ErrHardwareMismatch)))
	assert.False(t, IsBusinessError(ErrStoreUnavailable))
	assert.False(t, IsBusinessError(errors.New("unexpected")))
	assert.False(t, IsBusinessError(nil))
}
