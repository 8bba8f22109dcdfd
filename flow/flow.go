// Package flow dispatches calls to the external workflow backend.
//
// The same binary runs in two environments. Locally, workflows are invoked
// directly on their hosted trigger URLs with a bearer token. Embedded in the
// portal, the portal shell carries the call and wraps the payload in its own
// eventData envelope. A Transport for one of the two is chosen once at
// startup and every data-access package receives it through a Bridge.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"portal-middleware/config"
)

// Operation names a logical backend workflow.
type Operation string

const (
	Services              Operation = "services"
	AdditionalInfo        Operation = "additionalInfo"
	ServiceActions        Operation = "serviceActions"
	StepCheck             Operation = "stepCheck"
	Continue              Operation = "continue"
	PaymentStatus         Operation = "paymentStatus"
	PaymentIntentCreation Operation = "paymentIntentCreation"
	PaymentCreation       Operation = "paymentCreation"
	PaymentUpdate         Operation = "paymentUpdate"
	ListPayments          Operation = "listPayments"
	LatestPending         Operation = "latestPending"
	SettingsGet           Operation = "settingsGet"
	SettingsSave          Operation = "settingsSave"
)

var (
	ErrNoLocalURL    = errors.New("local flow url not set")
	ErrNoEmbeddedURL = errors.New("embedded flow url not set")
	ErrNoShell       = errors.New("portal shell is not available")
)

// CallError is any failure to get a usable answer from a workflow: missing
// configuration, transport errors, non-2xx statuses and unparseable bodies.
type CallError struct {
	Op         Operation
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("flow %v failed with status %v: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("flow %v failed: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Transport invokes one operation with a JSON-serializable payload and
// returns the workflow's JSON answer.
type Transport interface {
	Invoke(ctx context.Context, op Operation, payload interface{}) ([]byte, error)
}

// Tokens supplies bearer tokens for the local transport.
type Tokens interface {
	Token(ctx context.Context) (string, error)
}

// Endpoints maps each operation to its local and embedded URLs.
type Endpoints map[Operation]config.Endpoint

// EndpointsFromConfig converts the yaml flows section.
func EndpointsFromConfig(flows map[string]config.Endpoint) Endpoints {
	eps := Endpoints{}
	for name, ep := range flows {
		eps[Operation(name)] = ep
	}
	return eps
}

// NewTransport selects the transport for the configured environment. It is
// meant to be called once at startup.
func NewTransport(conf config.Config, tokens Tokens, hc *http.Client) Transport {
	eps := EndpointsFromConfig(conf.Flows)
	if conf.IsLocal() {
		return &LocalTransport{
			Endpoints: eps,
			Tokens:    tokens,
			Client:    hc,
		}
	}
	return &ShellTransport{
		Endpoints: eps,
		Shell:     NewPortalShell(conf.Shell, hc),
	}
}

// Bridge is what data-access packages hold. It marshals payloads through the
// transport and decodes the answers.
type Bridge struct {
	transport   Transport
	localUserID string
}

// NewBridge wraps a transport. localUserID stands in for the session identity
// and is only sent in local mode; pass "" for embedded mode.
func NewBridge(t Transport, localUserID string) *Bridge {
	return &Bridge{transport: t, localUserID: localUserID}
}

// LocalUserID is the test user sent as userid by local-mode payloads.
func (b *Bridge) LocalUserID() string {
	return b.localUserID
}

// CallRaw invokes op and returns the raw JSON answer.
func (b *Bridge) CallRaw(ctx context.Context, op Operation, payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		payload = struct{}{}
	}
	body, err := b.transport.Invoke(ctx, op, payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// Call invokes op and decodes the answer into out. A nil out discards it.
func (b *Bridge) Call(ctx context.Context, op Operation, payload interface{}, out interface{}) error {
	raw, err := b.CallRaw(ctx, op, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &CallError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
