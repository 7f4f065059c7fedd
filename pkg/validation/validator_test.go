package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	UserID    int64      `json:"user_id" validate:"required,gt=0"`
	Value     string     `json:"entity_value" validate:"required,not_blank,max=20"`
	Amount    string     `json:"amount" validate:"omitempty,decimal"`
	ExpiresAt *time.Time `json:"expires_at" validate:"omitempty,future"`
}

func TestValidateStruct_Valid(t *testing.T) {
	future := time.Now().Add(time.Hour)
	req := sampleRequest{UserID: 1, Value: "10.0.0.1", Amount: "100.02", ExpiresAt: &future}
	assert.NoError(t, ValidateStruct(&req))
}

func TestValidateStruct_FieldErrorsUseJSONNames(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	req := sampleRequest{UserID: 0, Value: "   ", Amount: "abc", ExpiresAt: &past}

	err := ValidateStruct(&req)
	require.Error(t, err)

	valErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.True(t, valErr.HasErrors())
	assert.Equal(t, "user_id is required", valErr.Errors["user_id"])
	assert.Equal(t, "entity_value must not be blank", valErr.Errors["entity_value"])
	assert.Equal(t, "amount must be a decimal amount", valErr.Errors["amount"])
	assert.Equal(t, "expires_at must be a future date/time", valErr.Errors["expires_at"])
}

func TestValidationError_ErrorIsSorted(t *testing.T) {
	v := &ValidationError{}
	v.AddError("b", "b is required")
	v.AddError("a", "a is required")
	assert.Equal(t, "a is required; b is required", v.Error())
}
