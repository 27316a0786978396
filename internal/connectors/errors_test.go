package connectors

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/dialoguard/internal/infra"
)

func TestErrorTagsWrapAndUnwrap(t *testing.T) {
	cause := errors.New("boom")

	var tErr *TransientError
	require.ErrorAs(t, Transient(cause), &tErr)
	assert.Equal(t, cause, tErr.Unwrap())

	var pErr *PermanentError
	require.ErrorAs(t, Permanent(cause), &pErr)
	assert.Equal(t, cause, pErr.Unwrap())

	assert.Nil(t, Transient(nil))
	assert.Nil(t, Permanent(nil))
}

func newClassifier(t *testing.T) *OpenAIBackend {
	t.Helper()
	return NewOpenAIBackend(infra.BackendConfig{APIKey: "test", Model: "test"}, zap.NewNop())
}

func TestClassifyProviderStatuses(t *testing.T) {
	b := newClassifier(t)

	var thErr *ThrottleError
	require.ErrorAs(t, b.classify(&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}), &thErr)
	assert.Greater(t, int64(thErr.RetryAfter), int64(0))

	var tErr *TransientError
	assert.ErrorAs(t, b.classify(&openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable}), &tErr)

	var pErr *PermanentError
	assert.ErrorAs(t, b.classify(&openai.APIError{HTTPStatusCode: http.StatusUnauthorized}), &pErr)
}

func TestClassifyTimeoutAndCancel(t *testing.T) {
	b := newClassifier(t)

	var tErr *TransientError
	assert.ErrorAs(t, b.classify(context.DeadlineExceeded), &tErr)

	// Отмена вызывающей стороной — не отказ бэкенда, уходит как есть
	assert.Equal(t, context.Canceled, b.classify(context.Canceled))
}

func TestClassifyUnknownIsNotRetried(t *testing.T) {
	b := newClassifier(t)

	// Неопознанный отказ не считается повторяемым
	var pErr *PermanentError
	assert.ErrorAs(t, b.classify(errors.New("something nobody expected")), &pErr)
}
