package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type invitePayload struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"omitempty,len=6"`
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	err := ValidateStruct(&invitePayload{Email: "not-an-email", Code: "ABC"})
	require.Error(t, err)

	failures, ok := err.(FieldErrors)
	require.True(t, ok)
	require.Len(t, failures, 2)
	require.Equal(t, "email", failures[0].Field)
	require.Equal(t, "code", failures[1].Field)
	require.Equal(t, "len", failures[1].Tag)
}

func TestValidateStructPasses(t *testing.T) {
	require.NoError(t, ValidateStruct(&invitePayload{Email: "a@b.example", Code: "A7K2M9"}))
	require.NoError(t, ValidateStruct(&invitePayload{Email: "a@b.example"}))
}
