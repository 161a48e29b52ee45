package auth

import (
	"context"
	"fmt"
	"html"
	"net"
	"net/http"
	"sync"
	"time"
)

// CallbackResult holds the query parameters captured from the OAuth
// redirect. Either Code+State or Error is populated, never both.
type CallbackResult struct {
	// Code is the authorization code from the OAuth provider.
	Code string

	// State is the state parameter to verify against the original request.
	State string

	// Error is the error code if the authorization failed.
	Error string

	// ErrorDescription is a human-readable error description.
	ErrorDescription string
}

// IsError returns true if the callback result represents a provider error.
func (r *CallbackResult) IsError() bool {
	return r.Error != ""
}

// CallbackServer is a short-lived local HTTP server that receives the OAuth
// redirect. It starts, waits for a single callback, then shuts down. The
// listener is torn down on every exit path so repeated login attempts can
// rebind the same port.
type CallbackServer struct {
	port     int
	server   *http.Server
	listener net.Listener
	resultCh chan *CallbackResult
	errorCh  chan error
	once     sync.Once
	stopOnce sync.Once
	baseURL  string
}

// NewCallbackServer creates a callback server. Port 0 picks an ephemeral
// port at Start time.
func NewCallbackServer(port int) *CallbackServer {
	return &CallbackServer{
		port:     port,
		resultCh: make(chan *CallbackResult, 1),
		errorCh:  make(chan error, 1),
	}
}

// Start binds the local listener and begins serving the callback path.
// Returns the redirect URI to use in the authorization request.
func (s *CallbackServer) Start(ctx context.Context) (string, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.baseURL = fmt.Sprintf("http://127.0.0.1:%d", s.port)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return s.RedirectURI(), nil
}

// WaitForCallback blocks until the callback arrives, the server fails, or
// the timeout elapses. A timeout yields *CallbackTimeoutError and a request
// carrying neither code nor error yields *MalformedCallbackError. The
// listener is stopped before returning in every case.
func (s *CallbackServer) WaitForCallback(ctx context.Context, timeout time.Duration) (*CallbackResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	defer s.Stop()

	select {
	case result := <-s.resultCh:
		if result.Code == "" && result.Error == "" {
			return nil, &MalformedCallbackError{}
		}
		return result, nil
	case err := <-s.errorCh:
		return nil, err
	case <-timer.C:
		return nil, &CallbackTimeoutError{Timeout: timeout.String()}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleCallback processes the redirect request. Only the first request is
// handled; anything after that gets a 400.
func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	var handled bool
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})

	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (s *CallbackServer) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	query := r.URL.Query()
	result := &CallbackResult{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if result.IsError() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, callbackErrorHTML,
			html.EscapeString(result.Error), html.EscapeString(result.ErrorDescription))
	} else {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, callbackSuccessHTML)
	}

	select {
	case s.resultCh <- result:
	default:
	}
}

// Stop shuts down the callback server and closes the listener. Safe to call
// multiple times and from multiple goroutines.
func (s *CallbackServer) Stop() {
	s.stopOnce.Do(func() {
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}

// RedirectURI returns the redirect URI served by this listener.
func (s *CallbackServer) RedirectURI() string {
	return s.baseURL + "/callback"
}

// Port returns the port the server is listening on.
func (s *CallbackServer) Port() int {
	return s.port
}

const callbackSuccessHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Authentication Successful</title>
    <style>
        body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; text-align: center; padding: 50px; }
        h1 { color: #4CAF50; }
        p { font-size: 16px; margin: 20px 0; color: #444; }
    </style>
</head>
<body>
    <h1>&#10003; Authentication Successful</h1>
    <p>You have successfully authenticated with SingleStore.</p>
    <p>You can close this window and return to your terminal.</p>
</body>
</html>
`

const callbackErrorHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Authentication Failed</title>
    <style>
        body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; text-align: center; padding: 50px; }
        h1 { color: #e53935; }
        p { font-size: 16px; margin: 20px 0; color: #444; }
    </style>
</head>
<body>
    <h1>&#10007; Authentication Failed</h1>
    <p>%s</p>
    <p>%s</p>
    <p>Please return to your terminal and try again.</p>
</body>
</html>
`
