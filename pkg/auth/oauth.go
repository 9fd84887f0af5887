// Package auth obtains and caches the OAuth2 token dayblock uses to talk to
// Google Calendar, via the installed-app flow with a localhost redirect.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/harrisonrobin/dayblock/pkg/logx"
)

const (
	TokenFile = "token.json"

	// LocalhostAuthPort must match the redirect URI registered for the client.
	LocalhostAuthPort = "6789"

	oobRedirect = "urn:ietf:wg:oauth:2.0:oob"
)

// ErrNoToken means no cached token exists and the flow is not interactive.
var ErrNoToken = errors.New("no cached token; run `dayblock auth` first")

type Flow struct {
	CredentialsPath string
	TokenPath       string
	// Interactive allows Client to fall back to the browser flow.
	Interactive bool
	Out         io.Writer
	Log         logx.Logger
}

// NewFlow returns a flow keeping its token next to the config in dir.
func NewFlow(dir, credentialsPath string, log logx.Logger) *Flow {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Flow{
		CredentialsPath: credentialsPath,
		TokenPath:       filepath.Join(dir, TokenFile),
		Out:             os.Stderr,
		Log:             log.With(logx.String("component", "auth")),
	}
}

// Config reads the client secrets and pins the redirect to LocalhostAuthPort.
func (f *Flow) Config(scopes []string) (*oauth2.Config, error) {
	b, err := os.ReadFile(f.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", f.CredentialsPath, err)
	}
	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = normalizeRedirect(config.RedirectURL, f.Log)
	return config, nil
}

func normalizeRedirect(redirect string, log logx.Logger) string {
	if redirect == oobRedirect || redirect == "" {
		fixed := fmt.Sprintf("http://localhost:%s/oauth2callback", LocalhostAuthPort)
		log.Info("overriding redirect url", logx.String("from", redirect), logx.String("to", fixed))
		return fixed
	}
	u, err := url.Parse(redirect)
	if err != nil {
		log.Warn("could not parse redirect url, using it as is", logx.String("url", redirect), logx.Err(err))
		return redirect
	}
	if u.Hostname() != "localhost" && u.Hostname() != "127.0.0.1" {
		log.Warn("redirect url is not a localhost callback", logx.String("url", redirect))
		return redirect
	}
	if u.Port() != LocalhostAuthPort {
		if u.Port() != "" {
			log.Warn("forcing localhost redirect port", logx.String("configured", u.Port()), logx.String("expected", LocalhostAuthPort))
		}
		u.Host = net.JoinHostPort(u.Hostname(), LocalhostAuthPort)
	}
	return u.String()
}

// Client returns an HTTP client that refreshes the cached token and writes
// refreshed tokens back to disk.
func (f *Flow) Client(ctx context.Context, scopes []string) (*http.Client, error) {
	config, err := f.Config(scopes)
	if err != nil {
		return nil, err
	}
	tok, err := tokenFromFile(f.TokenPath)
	if err != nil {
		if !f.Interactive {
			return nil, fmt.Errorf("%w (%v)", ErrNoToken, err)
		}
		f.Log.Info("no cached token, starting web authorization", logx.String("path", f.TokenPath))
		if tok, err = f.tokenFromWeb(ctx, config); err != nil {
			return nil, fmt.Errorf("failed to get token from web: %w", err)
		}
		if err := saveToken(f.TokenPath, tok); err != nil {
			return nil, err
		}
	}
	src := &persistingSource{
		base: config.TokenSource(ctx, tok),
		last: tok,
		path: f.TokenPath,
		log:  f.Log,
	}
	return oauth2.NewClient(ctx, src), nil
}

// Login always runs the browser flow and replaces the cached token.
func (f *Flow) Login(ctx context.Context, scopes []string) error {
	config, err := f.Config(scopes)
	if err != nil {
		return err
	}
	tok, err := f.tokenFromWeb(ctx, config)
	if err != nil {
		return err
	}
	return saveToken(f.TokenPath, tok)
}

func (f *Flow) tokenFromWeb(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	listener, err := net.Listen("tcp", net.JoinHostPort("localhost", LocalhostAuthPort))
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", LocalhostAuthPort, err)
	}
	defer listener.Close()

	state := fmt.Sprintf("dayblock-%d", time.Now().UnixNano())
	server := &http.Server{
		Handler:      callbackHandler(state, codeCh, errCh),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	defer server.Shutdown(context.Background())

	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Fprintf(f.Out, "Open the following URL in your browser to authorize dayblock:\n%s\n", authURL)

	select {
	case code := <-codeCh:
		exCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		tok, err := config.Exchange(exCtx, code)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from Google: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		return nil, errors.New("authorization timed out, please try again")
	}
}

func callbackHandler(state string, codeCh chan<- string, errCh chan<- error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Authorization code not found", http.StatusBadRequest)
			select {
			case errCh <- errors.New("authorization code not found in redirect URL"):
			default:
			}
			return
		}
		fmt.Fprint(w, "Authentication successful! You can close this window.")
		select {
		case codeCh <- code:
		default:
		}
	})
}

// persistingSource saves every token that differs from the last one seen.
type persistingSource struct {
	base oauth2.TokenSource
	path string
	log  logx.Logger

	mu   sync.Mutex
	last *oauth2.Token
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || tok.AccessToken != s.last.AccessToken || tok.RefreshToken != s.last.RefreshToken {
		if err := saveToken(s.path, tok); err != nil {
			s.log.Warn("could not persist refreshed token", logx.Err(err))
		} else {
			s.log.Debug("token refreshed and saved")
		}
		s.last = tok
	}
	return tok, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	return tok, nil
}

func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token to %s: %w", path, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
