package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateProfileURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{"https profile", "https://www.linkedin.com/in/jane-doe", ""},
		{"http profile", "http://linkedin.com/in/jane", ""},
		{"empty allowed", "", ""},
		{"no scheme", "linkedin.com/in/jane", "must start with http"},
		{"ftp scheme", "ftp://linkedin.com/in/jane", "must start with http"},
		{"no host", "https://", "must include a host"},
		{"malformed", "ht!tp://x", "Invalid URL format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProfileURL(tt.url, "linkedin")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var fe FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, "linkedin", fe.Field)
		})
	}
}
