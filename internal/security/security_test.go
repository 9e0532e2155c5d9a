package security

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "stock-alert/internal/errors"
)

func TestMaskCredential(t *testing.T) {
	assert.Equal(t, "", MaskCredential(""))
	assert.Equal(t, "***", MaskCredential("abc"))
	assert.Equal(t, "ab****", MaskCredential("abcdef"))
	assert.Equal(t, "abcd****mnop", MaskCredential("abcdefghmnop"))
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		hidden string
	}{
		{"api key pair", "request failed: apikey=SECRETVALUE123", "SECRETVALUE123"},
		{"openai key", "bad key sk-abcdefghijklmnopqrstuvwxyz012345", "sk-abcdefghijklmnopqrstuvwxyz012345"},
		{"gemini key", "key AIzaSyA1234567890abcdefghijklmnopqrstu rejected", "AIzaSyA1234567890abcdefghijklmnopqrstu"},
		{"telegram bot", "POST https://api.telegram.org/bot123456:AAHsecretTokenValue/sendMessage", "AAHsecretTokenValue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Redact(tt.in)
			assert.NotContains(t, out, tt.hidden)
		})
	}

	assert.Equal(t, "nothing to hide here", Redact("nothing to hide here"))
}

func TestRedactURL(t *testing.T) {
	out := RedactURL("https://www.alphavantage.co/query?function=GLOBAL_QUOTE&symbol=AAPL&apikey=DEMOKEY12345678")
	assert.NotContains(t, out, "DEMOKEY12345678")
	assert.Contains(t, out, "symbol=AAPL")
	assert.Contains(t, out, "function=GLOBAL_QUOTE")

	out = RedactURL("https://api.telegram.org/bot42:ZZsecretZZsecret/sendMessage")
	assert.NotContains(t, out, "ZZsecretZZsecret")
	assert.True(t, strings.HasSuffix(out, "/sendMessage"))
}

func TestScrubError_PreservesChain(t *testing.T) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet,
		"http://127.0.0.1:1/query?apikey=TOPSECRETKEY999", nil)
	require.NoError(t, err)

	cause := &url.Error{Op: "Get", URL: req.URL.String(), Err: context.DeadlineExceeded}
	wrapped := ScrubError(cause)

	assert.NotContains(t, wrapped.Error(), "TOPSECRETKEY999")
	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))
	assert.Nil(t, ScrubError(nil))
}

func TestValidateTicker(t *testing.T) {
	for _, ok := range []string{"AAPL", "BRK.B", "^GSPC", "EURUSD=X", "RDS-A"} {
		assert.NoError(t, ValidateTicker(ok), ok)
	}
	for _, bad := range []string{"", "AAPL;DROP", "A B", "THISTICKERISWAYTOOLONG"} {
		err := ValidateTicker(bad)
		require.Error(t, err, bad)
		var ve *apperrors.ValidationError
		assert.True(t, errors.As(err, &ve))
		assert.Equal(t, "ticker", ve.Field)
	}
}

func TestValidateNote(t *testing.T) {
	note, err := ValidateNote("buy\x00 the dip\n\tlater")
	require.NoError(t, err)
	assert.Equal(t, "buy the dip\n\tlater", note)

	_, err = ValidateNote(strings.Repeat("x", MaxNoteLen+1))
	assert.Error(t, err)
}
