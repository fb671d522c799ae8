package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEmailCodeTemplate(t *testing.T) {
	body, err := renderMailTemplate("email_code", map[string]string{
		"code":           "482913",
		"expiry_minutes": "10",
	})
	require.NoError(t, err)
	assert.Contains(t, body, "482913")
	assert.Contains(t, body, "10 minutes")
}

func TestRenderSecurityNoticeTemplates(t *testing.T) {
	t.Run("method enrolled", func(t *testing.T) {
		body, err := renderMailTemplate("mfa_method_enrolled", map[string]string{
			"method_type":  "passkey",
			"display_name": "YubiKey",
			"web_url":      "https://cloud.example.com",
		})
		require.NoError(t, err)
		assert.Contains(t, body, "passkey")
		assert.Contains(t, body, "YubiKey")
		assert.Contains(t, body, "https://cloud.example.com")
	})

	t.Run("method removed", func(t *testing.T) {
		body, err := renderMailTemplate("mfa_method_removed", map[string]string{
			"method_type":  "totp",
			"display_name": "My Phone",
			"web_url":      "https://cloud.example.com",
		})
		require.NoError(t, err)
		assert.Contains(t, body, "My Phone")
		assert.Contains(t, body, "removed")
	})

	t.Run("mfa disabled", func(t *testing.T) {
		body, err := renderMailTemplate("mfa_disabled", map[string]string{
			"web_url": "https://cloud.example.com",
		})
		require.NoError(t, err)
		assert.Contains(t, body, "https://cloud.example.com")
		assert.Contains(t, body, "password only")
	})
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := renderMailTemplate("no_such_template", map[string]string{})
	assert.Error(t, err)
}

// A data map missing a key the template references must fail the render, not
// mail out a body with a blank where the code belongs.
func TestRenderMissingDataKeyFails(t *testing.T) {
	_, err := renderMailTemplate("email_code", map[string]string{
		"expiry_minutes": "10",
	})
	assert.Error(t, err)
}
