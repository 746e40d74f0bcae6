package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfPlainErrorIsUnexpected(t *testing.T) {
	assert.Equal(t, KindUnexpected, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnexpected, KindOf(nil))
}

func TestConstructorsRoundTripKind(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
		code int
	}{
		{BadRequest("bad"), KindBadRequest, http.StatusBadRequest},
		{NotFound("missing"), KindNotFound, http.StatusNotFound},
		{Conflict("clash"), KindConflict, http.StatusConflict},
		{PayloadTooLarge("big"), KindPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{ServiceUnavailable("down"), KindServiceUnavailable, http.StatusServiceUnavailable},
		{Corrupt("bad bytes"), KindCorrupt, http.StatusInternalServerError},
		{Transient("retry"), KindTransient, http.StatusBadGateway},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, KindOf(tc.err))
		assert.Equal(t, tc.code, StatusCode(tc.err))
	}
}

func TestWrapPreservesKindAndUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := Wrap(KindCorrupt, "writing version", cause)

	assert.Equal(t, KindCorrupt, KindOf(wrapped))
	assert.Contains(t, wrapped.Error(), "disk full")
	assert.ErrorIs(t, wrapped, cause)
}

func TestStatusCodeDefaultsToInternalServerError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("anything")))
}
