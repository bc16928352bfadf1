package validation

import (
	"strings"
	"testing"

	"github.com/devrev/ndckv/internal/errors"
	"github.com/devrev/ndckv/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestValidator_ValidateKey(t *testing.T) {
	v := NewValidatorWithLimits(64, 16)

	tests := []struct {
		name    string
		key     model.Key
		wantErr bool
	}{
		{name: "plain", key: "user/1"},
		{name: "priority prefix", key: "p2:user/1"},
		{name: "empty", key: "", wantErr: true},
		{name: "too long", key: model.Key(strings.Repeat("k", 65)), wantErr: true},
		{name: "control character", key: "a\x07b", wantErr: true},
		{name: "null byte", key: "a\x00b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateKey(tt.key)
			if tt.wantErr {
				assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidKey))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidator_ValidatePut(t *testing.T) {
	v := NewValidatorWithLimits(64, 4)

	assert.NoError(t, v.ValidatePut("a", "", nil), "tombstones are valid")
	assert.True(t, errors.IsCode(v.ValidatePut("a", "12345", nil), errors.ErrCodeValueTooLarge))
	assert.True(t, errors.IsCode(
		v.ValidatePut("a", "1", model.CausalContext{-1: 3}),
		errors.ErrCodeInvalidCausalContext))
}

func TestValidator_ValidateGet(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateGet("a", 2, model.FifoMode(3)))
	assert.True(t, errors.IsCode(v.ValidateGet("a", -1, model.ModeEventual), errors.ErrCodeInvalidArgument))
	assert.True(t, errors.IsCode(v.ValidateGet("a", 1, model.ConsistencyMode(9)), errors.ErrCodeInvalidMode))
}
