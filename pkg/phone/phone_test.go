package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "jid", in: "5511999990000@s.whatsapp.net", want: "5511999990000"},
		{name: "jid with device", in: "5511999990000:12@s.whatsapp.net", want: "5511999990000"},
		{name: "formatted", in: "+55 (11) 99999-0000", want: "5511999990000"},
		{name: "us number", in: "+15551234567", want: "15551234567"},
		{name: "too short", in: "12345678", wantErr: true},
		{name: "too long", in: "1234567890123456", wantErr: true},
		{name: "empty", in: "", wantErr: true},
		{name: "letters only", in: "status@broadcast", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestE164(t *testing.T) {
	assert.Equal(t, "+5511999990000", E164("5511999990000"))
	assert.Equal(t, "", E164(""))
}

func TestVariants(t *testing.T) {
	assert.Equal(t, []string{"+15551234567", "15551234567"}, Variants("15551234567"))
	assert.Nil(t, Variants(""))
}
