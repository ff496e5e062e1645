package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionguard/internal/platform/apperr"
)

type request struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	DeviceID     string `json:"device_id" validate:"required,max=4"`
	Limit        int    `json:"limit,omitempty" validate:"omitempty,min=1,max=10"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, Struct(&request{RefreshToken: "t", DeviceID: "d1"}))

	err := Struct(&request{DeviceID: "too-long", Limit: 50})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "device_id: maximum is 4")
	assert.Contains(t, err.Error(), "limit: maximum is 10")
	assert.Contains(t, err.Error(), "refresh_token: is required")
}
