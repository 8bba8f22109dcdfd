package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// AuthError is returned when the local token endpoint cannot produce a token.
type AuthError struct {
	StatusCode int
	Msg        string
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to get local access token: %v %v", e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("failed to get local access token: %v", e.Msg)
}

// tokenFields are checked in order; the first non-empty string wins.
var tokenFields = []string{"accessToken", "access_token", "token"}

// TokenCache memoizes the bearer token used for direct workflow calls during
// local development. A token is reused while it is younger than TTL.
type TokenCache struct {
	URL    string
	TTL    time.Duration
	Client *http.Client

	now func() time.Time

	mu         sync.Mutex
	token      string
	acquiredAt time.Time

	refresh singleflight.Group
}

// NewTokenCache builds a cache for the token endpoint at url. A ttl of zero
// or less disables caching.
func NewTokenCache(url string, ttl time.Duration, hc *http.Client) *TokenCache {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenCache{
		URL:    url,
		TTL:    ttl,
		Client: hc,
		now:    time.Now,
	}
}

// Token returns the cached token or fetches a new one. Concurrent callers on
// a cold cache share a single request, which keeps running when the caller
// that started it goes away; the client timeout bounds it.
func (tc *TokenCache) Token(ctx context.Context) (string, error) {
	if token, ok := tc.cached(); ok {
		return token, nil
	}

	ch := tc.refresh.DoChan("token", func() (interface{}, error) {
		// another caller may have refreshed while we waited on the group
		if token, ok := tc.cached(); ok {
			return token, nil
		}
		token, err := tc.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		tc.mu.Lock()
		tc.token = token
		tc.acquiredAt = tc.now()
		tc.mu.Unlock()
		return token, nil
	})

	select {
	case <-ctx.Done():
		return "", &AuthError{Msg: ctx.Err().Error()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token so the next call fetches a fresh one.
func (tc *TokenCache) Invalidate() {
	tc.mu.Lock()
	tc.token = ""
	tc.acquiredAt = time.Time{}
	tc.mu.Unlock()
}

func (tc *TokenCache) cached() (string, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.token == "" || tc.TTL <= 0 {
		return "", false
	}
	if tc.now().Sub(tc.acquiredAt) < tc.TTL {
		return tc.token, true
	}
	return "", false
}

func (tc *TokenCache) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.URL, nil)
	if err != nil {
		return "", &AuthError{Msg: err.Error()}
	}
	resp, err := tc.Client.Do(req)
	if err != nil {
		return "", &AuthError{Msg: err.Error()}
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", &AuthError{StatusCode: resp.StatusCode, Msg: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthError{
			StatusCode: resp.StatusCode,
			Msg:        strings.TrimSpace(string(body)),
		}
	}

	fields := map[string]interface{}{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", &AuthError{StatusCode: resp.StatusCode, Msg: "get-token did not return json"}
	}
	for _, name := range tokenFields {
		if s, ok := fields[name].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", &AuthError{StatusCode: resp.StatusCode, Msg: "get-token did not return an access token"}
}
