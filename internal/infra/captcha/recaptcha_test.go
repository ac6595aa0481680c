package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestVerifyDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("secret") != "s3cret" || r.PostForm.Get("response") != "client-token" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"score":0.7,"action":"register","hostname":"portal.example.com","error-codes":[]}`))
	}))
	defer srv.Close()

	client := NewRecaptchaClient(srv.URL, time.Second, zaptest.NewLogger(t))
	result, err := client.Verify(context.Background(), "s3cret", "client-token")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Success || result.Score != 0.7 || result.Action != "register" || result.Hostname != "portal.example.com" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestVerifyErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
		"malformed body": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"success":`))
		},
		"timeout": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-r.Context().Done():
			}
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			client := NewRecaptchaClient(srv.URL, 100*time.Millisecond, zaptest.NewLogger(t))
			if _, err := client.Verify(context.Background(), "s", "t"); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestNewRecaptchaClientDefaults(t *testing.T) {
	client := NewRecaptchaClient("", 0, nil)
	if client.verifyURL != DefaultVerifyURL || client.httpClient.Timeout != DefaultTimeout {
		t.Fatalf("unexpected defaults %s %s", client.verifyURL, client.httpClient.Timeout)
	}
}
