package utils_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

func TestHeaderRedactor_Redact(t *testing.T) {
	redactor := utils.NewHeaderRedactor()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer sk-1234567890")
	headers.Set("X-Tt-Token", "0123456789abcdef")
	headers.Set("X-Secret", "short")
	headers.Set("User-Agent", "Mozilla/5.0")

	redacted := redactor.Redact(headers)
	assert.Equal(t, "Bearer ***", redacted["Authorization"])
	assert.Equal(t, "0123***cdef", redacted["X-Tt-Token"])
	assert.Equal(t, "***", redacted["X-Secret"])
	assert.Equal(t, "Mozilla/5.0", redacted["User-Agent"])

	assert.True(t, redactor.IsSensitiveHeader("Set-Cookie"))
	assert.False(t, redactor.IsSensitiveHeader("Accept-Language"))
}

func TestSummarizeCookies(t *testing.T) {
	assert.Equal(t, "(空)", utils.SummarizeCookies(nil))

	cookies := []models.Cookie{
		{Name: "sessionid", Value: "secret", Domain: ".toutiao.com"},
		{Name: "ttwid", Value: "secret", Domain: ".toutiao.com"},
		{Name: "csrftoken", Value: "secret", Domain: "mp.toutiao.com"},
	}
	summary := utils.SummarizeCookies(cookies)
	assert.Equal(t, ".toutiao.com=2, mp.toutiao.com=1", summary)
	assert.NotContains(t, summary, "secret")
}
