package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/cyclopsctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	testlog.Start(t)
	if tok, ok := BearerToken("Bearer  s3cret "); !ok || tok != "s3cret" {
		t.Fatalf("unexpected token: %q %v", tok, ok)
	}
	if tok, ok := BearerToken("bearer abc"); !ok || tok != "abc" {
		t.Fatalf("scheme must be case-insensitive: %q %v", tok, ok)
	}
	for _, h := range []string{"", "Bearer", "Basic abc", "Bearer   "} {
		if _, ok := BearerToken(h); ok {
			t.Fatalf("header %q must not yield a token", h)
		}
	}
}

func TestRequireToken(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireToken(StaticToken{Token: "abc"}))
	r.GET("/sessions", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/sessions", func(c *gin.Context) { c.Status(http.StatusCreated) })

	cases := []struct {
		method, header string
		want           int
	}{
		{http.MethodGet, "", http.StatusOK},
		{http.MethodPost, "", http.StatusUnauthorized},
		{http.MethodPost, "Bearer nope", http.StatusUnauthorized},
		{http.MethodPost, "Bearer abc", http.StatusCreated},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/sessions", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s %q: status %d, want %d", tc.method, tc.header, w.Code, tc.want)
		}
	}
}
