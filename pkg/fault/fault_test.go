package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_PreservesRootCauseAndCode(t *testing.T) {
	sentinel := errors.New("versions out of sync")
	base := WithCode(Business, http.StatusPreconditionRequired, "append rejected", sentinel)

	wrapped := Wrap(fmt.Errorf("anchoring layer: %w", base), "failed to save DSU")

	assert.Equal(t, Business, RootCauseOf(wrapped))
	assert.Equal(t, http.StatusPreconditionRequired, CodeOf(wrapped))
	assert.ErrorIs(t, wrapped, sentinel)
	assert.Contains(t, wrapped.Error(), "failed to save DSU")
	assert.Contains(t, wrapped.Error(), "append rejected")
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "nothing"))
	assert.NoError(t, Classify(Network, nil, "nothing"))
}

func TestRootCauseOf_Unclassified(t *testing.T) {
	assert.Equal(t, Unknown, RootCauseOf(errors.New("boom")))
	assert.Equal(t, 0, CodeOf(errors.New("boom")))
}

func TestRootCauseOf_InnermostWins(t *testing.T) {
	inner := New(MissingData, "anchor not found")
	outer := Classify(Unknown, inner, "remote call failed")

	assert.Equal(t, MissingData, RootCauseOf(outer))
	assert.True(t, IsMissingData(outer))
	assert.False(t, IsNetwork(outer))
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		cause  RootCause
	}{
		{http.StatusNotFound, MissingData},
		{http.StatusTooManyRequests, Throttler},
		{http.StatusConflict, Business},
		{http.StatusPreconditionRequired, Business},
		{http.StatusBadRequest, Business},
		{http.StatusInternalServerError, Unknown},
		{http.StatusBadGateway, Unknown},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := FromStatus(tt.status, "request failed")
			assert.Equal(t, tt.cause, RootCauseOf(err))
			assert.Equal(t, tt.status, CodeOf(err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusPreconditionRequired,
		HTTPStatus(WithCode(Business, http.StatusPreconditionRequired, "out of sync", nil)))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(New(MissingData, "missing")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(DataInput, "bad id")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(Network, "refused")))
	assert.True(t, IsRetryable(New(Throttler, "slow down")))
	assert.False(t, IsRetryable(New(Business, "rejected")))
	assert.False(t, IsRetryable(New(MissingData, "gone")))
	assert.False(t, IsRetryable(nil))
}
