package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"portal-middleware/config"
)

// AjaxOptions mirrors the portal's safe ajax call.
type AjaxOptions struct {
	Type string
	URL  string
	Data map[string]string
}

// Shell is the host portal's authenticated request capability. It returns
// the workflow answer as a JSON-encoded string.
type Shell interface {
	AjaxSafePost(ctx context.Context, opts AjaxOptions) (string, error)
}

// ShellTransport routes calls through the portal shell.
type ShellTransport struct {
	Endpoints Endpoints
	Shell     Shell
}

func (t *ShellTransport) Invoke(ctx context.Context, op Operation, payload interface{}) ([]byte, error) {
	if t.Shell == nil {
		return nil, &CallError{Op: op, Err: ErrNoShell}
	}
	u := t.Endpoints[op].Embedded
	if u == "" {
		return nil, &CallError{Op: op, Err: ErrNoEmbeddedURL}
	}

	eventData, err := json.Marshal(payload)
	if err != nil {
		return nil, &CallError{Op: op, Err: fmt.Errorf("payload is not serializable: %w", err)}
	}

	resp, err := t.Shell.AjaxSafePost(ctx, AjaxOptions{
		Type: http.MethodPost,
		URL:  u,
		Data: map[string]string{"eventData": string(eventData)},
	})
	if err != nil {
		ce := &CallError{Op: op, Err: err}
		if se, ok := err.(*ShellStatusError); ok {
			ce.StatusCode = se.StatusCode
		}
		return nil, ce
	}

	return unwrapEnvelope(op, resp)
}

// unwrapEnvelope decodes the shell's answer. The portal hands back the
// workflow's JSON as a string, sometimes quoted a second time; both forms
// are accepted.
func unwrapEnvelope(op Operation, s string) ([]byte, error) {
	b := []byte(strings.TrimSpace(s))
	if len(b) > 0 && b[0] == '"' {
		var inner string
		if err := json.Unmarshal(b, &inner); err != nil {
			return nil, &CallError{Op: op, Err: fmt.Errorf("failed to decode shell envelope: %w", err)}
		}
		b = []byte(inner)
	}
	return validJSON(op, b)
}

// ShellStatusError is a non-2xx answer from the portal host.
type ShellStatusError struct {
	StatusCode int
	Body       string
}

func (e *ShellStatusError) Error() string {
	return fmt.Sprintf("portal shell returned %v: %v", e.StatusCode, e.Body)
}

// PortalShell performs the shell's safe post over HTTP against the portal
// host, form-encoding the data. The portal session on the context, if any,
// supplies the cookies and verification token; VerificationToken is the
// fallback for calls made outside a user request.
type PortalShell struct {
	Host              string
	VerificationToken string
	Client            *http.Client
}

func NewPortalShell(conf config.Shell, hc *http.Client) *PortalShell {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &PortalShell{
		Host:              strings.TrimRight(conf.Host, "/"),
		VerificationToken: conf.VerificationToken,
		Client:            hc,
	}
}

func (p *PortalShell) AjaxSafePost(ctx context.Context, opts AjaxOptions) (string, error) {
	form := url.Values{}
	for k, v := range opts.Data {
		form.Set(k, v)
	}
	method := opts.Type
	if method == "" {
		method = http.MethodPost
	}

	target := opts.URL
	if strings.HasPrefix(target, "/") {
		target = p.Host + target
	}

	req, err := http.NewRequestWithContext(ctx, method, target, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	token := p.VerificationToken
	if session, ok := PortalSessionFrom(ctx); ok {
		if session.Cookie != "" {
			req.Header.Set("Cookie", session.Cookie)
		}
		if session.VerificationToken != "" {
			token = session.VerificationToken
		}
	}
	if token != "" {
		req.Header.Set(VerificationTokenHeader, token)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &ShellStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return string(body), nil
}
