package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Nick     string `validate:"max=3"`
}

func TestStruct_ReportsJSONFieldNames(t *testing.T) {
	err := Struct(&sample{Email: "nope", Nick: "toolong"})
	require.Error(t, err)

	var fe FieldErrors
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "email", fe["email"])
	assert.Equal(t, "required", fe["password"])
	assert.Equal(t, "max", fe["Nick"])
	assert.Equal(t, "field 'Nick' failed 'max'; field 'email' failed 'email'; field 'password' failed 'required'", err.Error())
}

func TestStruct_Valid(t *testing.T) {
	assert.NoError(t, Struct(&sample{Email: "a@b.com", Password: "12345678"}))
}

type secret struct {
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
}

func TestStruct_MaxBytesCountsBytesNotRunes(t *testing.T) {
	assert.NoError(t, Struct(&secret{Password: strings.Repeat("a", 72)}))
	assert.NoError(t, Struct(&secret{Password: strings.Repeat("é", 36)}))

	err := Struct(&secret{Password: strings.Repeat("é", 40)})
	var fe FieldErrors
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "maxbytes", fe["password"])
}
