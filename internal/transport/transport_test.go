// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/hyun-k/elife/internal/config"
)

func testClient(t *testing.T, origin string) *Client {
	t.Helper()
	return NewClient(config.APIConfig{
		Origin:       origin,
		Timeout:      5 * time.Second,
		RetryMax:     3,
		RetryBackoff: time.Millisecond,
		RateLimit:    1000,
		RateBurst:    1000,
	})
}

func checkNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestJSONSuccess(t *testing.T) {
	var gotContentType, gotUA, gotCustom string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotUA = r.Header.Get("User-Agent")
		gotCustom = r.Header.Get("_csrf")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"result":true}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	raw, err := c.RequestJSON(context.Background(), "/device/control.ajax",
		map[string]string{"_csrf": "token-1"},
		map[string]string{"type": "light"})
	checkNoError(t, err)

	var resp struct {
		Result bool `json:"result"`
	}
	checkNoError(t, json.Unmarshal(raw, &resp))
	if !resp.Result {
		t.Error("expected result true")
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	if gotUA != userAgent {
		t.Errorf("User-Agent = %q, want vendor client identity", gotUA)
	}
	if gotCustom != "token-1" {
		t.Errorf("_csrf header = %q, want token-1", gotCustom)
	}
	if gotBody["type"] != "light" {
		t.Errorf("request body type = %q, want light", gotBody["type"])
	}
}

func TestRequestJSONNilBodySendsEmptyObject(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := make([]byte, 16)
		n, _ := r.Body.Read(b)
		gotBody = string(b[:n])
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).RequestJSON(context.Background(), "/common/nativeToken.ajax", nil, nil)
	checkNoError(t, err)
	if gotBody != "{}" {
		t.Errorf("body = %q, want {}", gotBody)
	}
}

func TestRequestJSONRejectsNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>login page</html>")) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).RequestJSON(context.Background(), "/login.ajax", nil, nil)
	if !errors.Is(err, ErrNotJSON) {
		t.Fatalf("error = %v, want ErrNotJSON", err)
	}
}

func TestRetryOnServerErrorAllowlist(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value":"ok"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).RequestJSON(context.Background(), "/common/nativeToken.ajax", nil, nil)
	checkNoError(t, err)
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).RequestJSON(context.Background(), "/login.ajax", nil, nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if statusErr.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", statusErr.Status)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 401)", got)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).RequestJSON(context.Background(), "/device/control.ajax", nil, nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if statusErr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", statusErr.Status)
	}
	// initial attempt + RetryMax retries
	if got := attempts.Load(); got != 4 {
		t.Errorf("attempts = %d, want 4", got)
	}
}

func TestFetchHTMLUsesPageHeaders(t *testing.T) {
	var gotRequestedWith, gotAuth, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestedWith = r.Header.Get("X-Requested-With")
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>home</body></html>")) //nolint:errcheck
	}))
	defer srv.Close()

	body, err := testClient(t, srv.URL).FetchHTML(context.Background(), "/main/home.do",
		map[string]string{"Authorization": "Bearer abc"})
	checkNoError(t, err)
	if body != "<html><body>home</body></html>" {
		t.Errorf("body = %q", body)
	}
	if gotMethod != http.MethodGet {
		t.Errorf("method = %q, want GET", gotMethod)
	}
	if gotRequestedWith != "com.daelim.elife" {
		t.Errorf("X-Requested-With = %q, want com.daelim.elife", gotRequestedWith)
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("Authorization = %q, want Bearer abc", gotAuth)
	}
}

func TestRetryDelaySchedule(t *testing.T) {
	c := &Client{retryBackoff: 5 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 0},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
	}
	for _, tc := range cases {
		if got := c.retryDelay(tc.attempt); got != tc.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestMergeHeadersCallerWins(t *testing.T) {
	merged := mergeHeaders(map[string]string{"Accept": "application/json"},
		map[string]string{"Accept": "text/plain", "_csrf": "t"}, "application/json")

	if merged["Accept"] != "text/plain" {
		t.Errorf("Accept = %q, caller override should win", merged["Accept"])
	}
	if merged["Content-Type"] != "application/json" {
		t.Errorf("Content-Type = %q", merged["Content-Type"])
	}
	if merged["_csrf"] != "t" {
		t.Errorf("_csrf = %q", merged["_csrf"])
	}
}

func TestContextCancellationAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read detects the
		// client disconnect and cancels r.Context(); otherwise srv.Close
		// deadlocks waiting on this handler.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := testClient(t, srv.URL).RequestJSON(ctx, "/device/control.ajax", nil, nil)
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
}
