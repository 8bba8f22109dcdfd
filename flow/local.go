package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"
)

// LocalTransport calls the hosted workflow triggers directly.
type LocalTransport struct {
	Endpoints Endpoints
	Tokens    Tokens
	Client    *http.Client
}

func (t *LocalTransport) Invoke(ctx context.Context, op Operation, payload interface{}) ([]byte, error) {
	url := t.Endpoints[op].Local
	if url == "" {
		return nil, &CallError{Op: op, Err: ErrNoLocalURL}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &CallError{Op: op, Err: fmt.Errorf("payload is not serializable: %w", err)}
	}

	token, err := t.Tokens.Token(ctx)
	if err != nil {
		return nil, &CallError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	hc := t.Client
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, &CallError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, &CallError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &CallError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("local flow call failed: %v", strings.TrimSpace(string(respBody))),
		}
	}

	return validJSON(op, respBody)
}

// validJSON treats an empty body as null; workflows that only acknowledge a
// write often answer with nothing.
func validJSON(op Operation, b []byte) ([]byte, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(b) {
		return nil, &CallError{Op: op, Err: fmt.Errorf("response is not valid json")}
	}
	return b, nil
}
