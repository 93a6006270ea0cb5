package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "+919876543210", want: "+919876543210"},
		{raw: " +91 98765-43210 ", want: "+919876543210"},
		{raw: "+1 (415) 555.0100", want: "+14155550100"},
		{raw: "00919876543210", want: "+919876543210"},
		{raw: "9876543210", wantErr: true},
		{raw: "+0123456789", wantErr: true},
		{raw: "+91abc", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := NormalizePhone(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPhone)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateOTPCode(t *testing.T) {
	for _, code := range []string{"1234", "424242", "12345678"} {
		assert.NoError(t, ValidateOTPCode(code), code)
	}
	for _, code := range []string{"", "123", "123456789", "12a456", " 424242", "４２４２"} {
		assert.ErrorIs(t, ValidateOTPCode(code), ErrInvalidCode, code)
	}
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Asha", SanitizeName("  Asha "))
	assert.Equal(t, "&lt;b&gt;", SanitizeName("<b>"))
	assert.Len(t, []rune(SanitizeName(strings.Repeat("é", 200))), maxNameLength)
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "*********3210", MaskPhone("+919876543210"))
	assert.Equal(t, "****", MaskPhone("12"))
}

func TestContainsSuspicious(t *testing.T) {
	assert.True(t, ContainsSuspicious("<script>"))
	assert.True(t, ContainsSuspicious("${jndi}"))
	assert.False(t, ContainsSuspicious("Ravi Kumar"))
}
