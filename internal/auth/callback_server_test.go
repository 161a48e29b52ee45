package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func startTestCallbackServer(t *testing.T) (*CallbackServer, string) {
	t.Helper()

	server := NewCallbackServer(0)
	redirectURI, err := server.Start(context.Background())
	if err != nil {
		t.Fatalf("failed to start callback server: %v", err)
	}
	t.Cleanup(server.Stop)
	return server, redirectURI
}

func TestCallbackServerSuccess(t *testing.T) {
	server, redirectURI := startTestCallbackServer(t)

	go func() {
		resp, err := http.Get(redirectURI + "?code=test-code&state=test-state")
		if err == nil {
			resp.Body.Close()
		}
	}()

	result, err := server.WaitForCallback(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForCallback failed: %v", err)
	}
	if result.Code != "test-code" {
		t.Errorf("expected code test-code, got %q", result.Code)
	}
	if result.State != "test-state" {
		t.Errorf("expected state test-state, got %q", result.State)
	}
	if result.IsError() {
		t.Error("successful callback reported as error")
	}
}

func TestCallbackServerProviderError(t *testing.T) {
	server, redirectURI := startTestCallbackServer(t)

	go func() {
		resp, err := http.Get(redirectURI + "?error=access_denied&error_description=user+cancelled&state=test-state")
		if err == nil {
			resp.Body.Close()
		}
	}()

	result, err := server.WaitForCallback(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForCallback failed: %v", err)
	}
	if !result.IsError() {
		t.Fatal("expected error result")
	}
	if result.Error != "access_denied" {
		t.Errorf("expected error access_denied, got %q", result.Error)
	}
	if result.ErrorDescription != "user cancelled" {
		t.Errorf("unexpected error description %q", result.ErrorDescription)
	}
}

func TestCallbackServerMalformed(t *testing.T) {
	server, redirectURI := startTestCallbackServer(t)

	go func() {
		resp, err := http.Get(redirectURI + "?state=only-state")
		if err == nil {
			resp.Body.Close()
		}
	}()

	_, err := server.WaitForCallback(context.Background(), 5*time.Second)
	var malformed *MalformedCallbackError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedCallbackError, got %v", err)
	}
}

func TestCallbackServerTimeout(t *testing.T) {
	server, _ := startTestCallbackServer(t)

	start := time.Now()
	_, err := server.WaitForCallback(context.Background(), 100*time.Millisecond)
	elapsed := time.Since(start)

	var timeout *CallbackTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected CallbackTimeoutError, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestCallbackServerContextCancel(t *testing.T) {
	server, _ := startTestCallbackServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := server.WaitForCallback(ctx, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCallbackServerSecondRequestRejected(t *testing.T) {
	server, redirectURI := startTestCallbackServer(t)

	resp, err := http.Get(redirectURI + "?code=first&state=s")
	if err != nil {
		t.Fatalf("first callback request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(redirectURI + "?code=second&state=s")
	if err != nil {
		t.Fatalf("second callback request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("second request: expected 400, got %d", resp.StatusCode)
	}

	result, err := server.WaitForCallback(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("WaitForCallback failed: %v", err)
	}
	if result.Code != "first" {
		t.Errorf("expected first code to win, got %q", result.Code)
	}
}

func TestCallbackServerPortRelease(t *testing.T) {
	server := NewCallbackServer(0)
	redirectURI, err := server.Start(context.Background())
	if err != nil {
		t.Fatalf("failed to start callback server: %v", err)
	}
	port := server.Port()
	server.Stop()

	// The port must be rebindable after Stop so a retried login works.
	retry := NewCallbackServer(port)
	if _, err := retry.Start(context.Background()); err != nil {
		t.Skipf("port %d not immediately rebindable: %v", port, err)
	}
	retry.Stop()

	if !strings.Contains(redirectURI, fmt.Sprintf(":%d", port)) {
		t.Errorf("redirect URI %q does not contain port %d", redirectURI, port)
	}
}

func TestRedirectURIFormat(t *testing.T) {
	server, redirectURI := startTestCallbackServer(t)

	if !strings.HasPrefix(redirectURI, "http://127.0.0.1:") {
		t.Errorf("redirect URI %q is not loopback", redirectURI)
	}
	if !strings.HasSuffix(redirectURI, "/callback") {
		t.Errorf("redirect URI %q does not end with /callback", redirectURI)
	}
	if server.RedirectURI() != redirectURI {
		t.Error("RedirectURI() does not match Start() return value")
	}
}
