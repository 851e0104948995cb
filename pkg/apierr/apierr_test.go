package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrom(t *testing.T) {
	bad := BadParameter("page[limit]", "%q is not an integer", "x")
	wrapped := fmt.Errorf("parse: %w", bad)

	assert.Same(t, bad, From(wrapped))
	assert.Equal(t, http.StatusBadRequest, StatusOf(wrapped))

	cause := errors.New("connection reset")
	internal := From(cause)
	assert.Equal(t, http.StatusInternalServerError, internal.Status)
	assert.ErrorIs(t, internal, cause)
	assert.NotContains(t, internal.Detail, "connection reset")
}

func TestWrite(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "parameter source",
			err:  BadParameter("sort", "unknown field %q", "shoe"),
			want: `{"errors":[{"status":"400","code":"invalid_parameter","title":"Invalid Query Parameter","detail":"unknown field \"shoe\"","source":{"parameter":"sort"}}]}`,
		},
		{
			name: "pointer source",
			err:  BadRequest("/data/type", "missing type"),
			want: `{"errors":[{"status":"400","code":"bad_request","title":"Bad Request","detail":"missing type","source":{"pointer":"/data/type"}}]}`,
		},
		{
			name: "not found",
			err:  NotFound("posts", "9"),
			want: `{"errors":[{"status":"404","code":"not_found","title":"Not Found","detail":"no posts with id \"9\""}]}`,
		},
		{
			name: "cause hidden",
			err:  Forbidden("access to posts 3 denied", errors.New("rejected by access.allowed_object")),
			want: `{"errors":[{"status":"403","code":"forbidden","title":"Forbidden","detail":"access to posts 3 denied"}]}`,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: `{"errors":[{"status":"500","code":"internal_error","title":"Internal Server Error","detail":"the request could not be completed"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			Write(rr, tt.err)
			require.Equal(t, MediaType, rr.Header().Get("Content-Type"))
			assert.Equal(t, StatusOf(tt.err), rr.Code)
			assert.JSONEq(t, tt.want, rr.Body.String())
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "filter[x]: unknown operator", BadParameter("filter[x]", "unknown operator").Error())
	assert.Equal(t, "resource type mismatch", Conflict("resource type mismatch").Error())
}
