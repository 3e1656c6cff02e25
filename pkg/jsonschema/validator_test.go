package jsonschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userSchema = `{
	"type": "object",
	"properties": {
		"name": { "type": "string" },
		"age": { "type": "integer", "minimum": 0 }
	},
	"required": ["name"]
}`

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		schema        string
		json          string
		expectedValid bool
		expectedError bool
	}{
		{
			name:          "valid object",
			schema:        userSchema,
			json:          `{"name": "John Doe", "age": 30}`,
			expectedValid: true,
		},
		{
			name:          "missing required property",
			schema:        userSchema,
			json:          `{"age": 30}`,
			expectedValid: false,
		},
		{
			name:          "wrong type",
			schema:        userSchema,
			json:          `{"name": "John", "age": "thirty"}`,
			expectedValid: false,
		},
		{
			name:          "invalid schema",
			schema:        `{"type": 12`,
			json:          `{}`,
			expectedError: true,
		},
		{
			name:          "invalid document",
			schema:        userSchema,
			json:          `{"name":`,
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, err := Validate(tt.json, tt.schema)
			if tt.expectedError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedValid, valid)
		})
	}
}

func TestValidateWithErrors(t *testing.T) {
	valid, errs := ValidateWithErrors(`{"name": "a", "age": 1}`, userSchema)
	assert.True(t, valid)
	assert.Empty(t, errs)

	valid, errs = ValidateWithErrors(`{"age": -1}`, userSchema)
	assert.False(t, valid)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs.Error(), "name")
	assert.Contains(t, errs.Error(), "/age")
}

func TestCompileCaches(t *testing.T) {
	a, err := Compile(userSchema)
	require.NoError(t, err)
	b, err := Compile(userSchema)
	require.NoError(t, err)
	assert.Same(t, a, b)
}
