package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendRequest struct {
	Text string `json:"text" validate:"required,notblank,max=5"`
}

func TestValidateStruct(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateStruct(sendRequest{Text: "hi"}))

	err := v.ValidateStruct(sendRequest{Text: "   "})
	require.Error(t, err)
	assert.Equal(t, map[string]string{"text": "Text is required"}, FormatValidationErrors(err))

	err = v.ValidateStruct(sendRequest{Text: "too long"})
	require.Error(t, err)
	assert.Equal(t, "Text must be at most 5 characters", FormatValidationErrors(err)["text"])
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hel\x00lo \n"))
}
