package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "loci/pkg/errors"
)

type sampleInput struct {
	Name  string `json:"name" validate:"required,max=5"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
	Role  string `json:"role" validate:"omitempty,oneof=user assistant"`
}

func TestValidateStruct(t *testing.T) {
	require.NoError(t, ValidateStruct(sampleInput{Name: "ok", Color: "#fff", Role: "user"}))

	err := ValidateStruct(sampleInput{Color: "blue", Role: "robot"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "color must be a hex color")
	assert.Contains(t, err.Error(), "role must be one of: user assistant")

	details := pkgerrors.GetAppError(err).Details
	assert.Equal(t, "required", details["name"])
}
