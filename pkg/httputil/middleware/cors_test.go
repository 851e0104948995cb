package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSWithOptions(t *testing.T) {
	defaults := map[string]string{
		"Access-Control-Allow-Origin":      "*",
		"Access-Control-Allow-Methods":     "GET,POST,PATCH,DELETE,OPTIONS",
		"Access-Control-Allow-Headers":     "Content-Type,Accept,Authorization,X-Request-Id",
		"Access-Control-Expose-Headers":    "X-Request-Id",
		"Access-Control-Allow-Credentials": "true",
	}
	tests := []struct {
		name            string
		method          string
		options         *CORSOptions
		expectedHeaders map[string]string
		expectedStatus  int
	}{
		{
			name:            "default options",
			method:          http.MethodGet,
			expectedHeaders: defaults,
			expectedStatus:  http.StatusOK,
		},
		{
			name:   "custom options",
			method: http.MethodGet,
			options: &CORSOptions{
				AllowedOrigins: []string{"http://example.com"},
				AllowedMethods: []string{"GET", "POST"},
				AllowedHeaders: []string{"Content-Type"},
			},
			expectedHeaders: map[string]string{
				"Access-Control-Allow-Origin":      "http://example.com",
				"Access-Control-Allow-Methods":     "GET,POST",
				"Access-Control-Allow-Headers":     "Content-Type",
				"Access-Control-Expose-Headers":    "",
				"Access-Control-Allow-Credentials": "",
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:    "empty options",
			method:  http.MethodGet,
			options: &CORSOptions{},
			expectedHeaders: map[string]string{
				"Access-Control-Allow-Origin": "",
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:            "preflight request",
			method:          http.MethodOptions,
			expectedHeaders: defaults,
			expectedStatus:  http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			CORSWithOptions(tt.options)(http.HandlerFunc(ok)).ServeHTTP(rr, httptest.NewRequest(tt.method, "http://example.com", nil))

			for header, expected := range tt.expectedHeaders {
				assert.Equal(t, expected, rr.Header().Get(header), header)
			}
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}
