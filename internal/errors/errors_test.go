package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDialectError_Format(t *testing.T) {
	assert.Equal(t, "[QUERY:PARSE_ERROR] bad sql", New(ErrCategoryQuery, CodeParseError, "bad sql").Error())

	refused := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryConnection, CodeConnectionRefused, "dial failed", refused)
	assert.Equal(t, "[CONNECTION:CONNECTION_REFUSED] dial failed: connection refused", err.Error())
	assert.Equal(t, "dial failed", err.UserMessage())
	assert.ErrorIs(t, err, refused)
}

func TestDialectError_MatchesOnCategoryAndCode(t *testing.T) {
	first := New(ErrCategoryAuthentication, CodeUnauthorized, "first")
	assert.ErrorIs(t, first, New(ErrCategoryAuthentication, CodeUnauthorized, "second"))
	assert.NotErrorIs(t, first, New(ErrCategoryAuthentication, CodeForbidden, "second"))
	assert.ErrorIs(t, fmt.Errorf("fetch: %w", first), NewAuthenticationError(CodeUnauthorized, nil))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryAuthentication, CodeUnauthorized, false},
		{ErrCategoryAuthentication, CodeForbidden, false},
		{ErrCategoryNotFound, CodeEndpointNotFound, false},
		{ErrCategoryTimeout, CodeRequestTimeout, true},
		{ErrCategoryConnection, CodeConnectionRefused, true},
		{ErrCategoryConnection, CodeConnectionFailed, true},
		{ErrCategoryUpstream, CodeServerError, true},
		{ErrCategoryUpstream, CodeUnexpectedReply, false},
		{ErrCategoryColumnMapping, CodeUnmappedColumn, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.retryable, IsRetryable(New(tt.category, tt.code, "x")), "%s:%s", tt.category, tt.code)
	}
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestUserMessages(t *testing.T) {
	tests := []struct {
		err  *DialectError
		want string
	}{
		{NewAuthenticationError(CodeUnauthorized, nil), "credentials"},
		{NewConnectionError(CodeConnectionRefused, nil), "connect"},
		{NewTimeoutError(nil), "connect"},
		{NewNotFoundError("https://play.dhis2.org/api/me", nil), "URL"},
	}
	for _, tt := range tests {
		assert.Contains(t, tt.err.UserMessage(), tt.want, tt.err.Code)
	}
}

func TestAccessors(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewQueryError(CodeParseError, "bad sql"))
	assert.Equal(t, ErrCategoryQuery, GetCategory(err))
	assert.Equal(t, CodeParseError, GetCode(err))

	de, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, "bad sql", de.Message)

	plain := errors.New("plain")
	assert.Empty(t, GetCategory(plain))
	assert.Empty(t, GetCode(plain))
	_, ok = As(plain)
	assert.False(t, ok)
}

func TestColumnMappingErrorDetails(t *testing.T) {
	err := NewColumnMappingError("Malaria Cases", []string{"Period", "OrgUnit"})
	assert.Equal(t, "Malaria Cases", err.Details["column"])
	assert.Equal(t, []string{"Period", "OrgUnit"}, err.Details["candidates"])
	assert.False(t, IsRetryable(err))
}
