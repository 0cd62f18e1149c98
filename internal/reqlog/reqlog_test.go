package reqlog

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact_RemovesAuthorizationCaseInsensitively(t *testing.T) {
	headers := map[string]string{
		"Authorization": "Bearer secret",
		"Content-Type":  "application/json",
	}
	out := Redact(headers)
	_, present := out["Authorization"]
	assert.False(t, present)
	assert.Equal(t, "application/json", out["Content-Type"])
}

func TestRedact_RemovesAccessTokenHeaderAnyCase(t *testing.T) {
	headers := map[string]string{"X-ACCESS-TOKEN": "abc"}
	out := Redact(headers)
	assert.Empty(t, out)
}

func TestRedact_LeavesNonSensitiveHeadersIntact(t *testing.T) {
	headers := map[string]string{"X-Request-Id": "r1"}
	out := Redact(headers)
	assert.Equal(t, "r1", out["X-Request-Id"])
}

func TestRedact_EmptyInput(t *testing.T) {
	out := Redact(map[string]string{})
	assert.Empty(t, out)
}

func TestNew_ProductionUsesJSONHandler(t *testing.T) {
	logger := New("production")
	assert.NotNil(t, logger)
}

func TestNew_DevelopmentUsesTextHandler(t *testing.T) {
	logger := New("development")
	assert.NotNil(t, logger)
}

func TestForRequest_AttributesPropagateToEveryRecord(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	logger := ForRequest(base, "req-1", "chat")
	logger.Info("handled")

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-1"`)
	assert.Contains(t, out, `"endpoint":"chat"`)
}
