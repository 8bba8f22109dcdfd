package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"portal-middleware/auth"
	"portal-middleware/config"
	"portal-middleware/flow"
	"portal-middleware/models"
	"portal-middleware/onboarding"
	"portal-middleware/payments"
	"portal-middleware/pricing"
	"portal-middleware/settings"
	"portal-middleware/userdata"

	"github.com/FusionAuth/go-client/pkg/fusionauth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const servicesBody = `{
	"firstname": "Ada",
	"lastname": "Lovelace",
	"bestvisa": [
		{"id": "s-a", "subject": "Other Immigration Services", "product": "Alpha", "unit": "file", "price": 50},
		{"id": "s-b", "subject": "Permanent Residency Services", "product": "Beta", "unit": "hour", "price": "200"}
	],
	"practitioner": []
}`

// fakeTransport answers each operation with a fixed body or error.
type fakeTransport struct {
	mu     sync.Mutex
	bodies map[flow.Operation]string
	errs   map[flow.Operation]error
	calls  map[flow.Operation]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		bodies: map[flow.Operation]string{flow.Services: servicesBody},
		errs:   map[flow.Operation]error{},
		calls:  map[flow.Operation]int{},
	}
}

func (f *fakeTransport) Invoke(ctx context.Context, op flow.Operation, payload interface{}) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &flow.CallError{Op: op, Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if err := f.errs[op]; err != nil {
		return nil, err
	}
	if body, ok := f.bodies[op]; ok {
		return []byte(body), nil
	}
	return []byte(`{}`), nil
}

func (f *fakeTransport) count(op flow.Operation) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

type fakeAuth struct {
	users map[string]fusionauth.User
}

func (f *fakeAuth) GetUserByJWT(jwt string) (fusionauth.User, error) {
	u, ok := f.users[jwt]
	if !ok {
		return fusionauth.User{}, errors.New("bad jwt")
	}
	return u, nil
}

func (f *fakeAuth) Exchange(oauths models.OauthState) (fusionauth.User, string, error) {
	if oauths.State != "state-1" || oauths.Verifier != "verifier-1" {
		return fusionauth.User{}, "", errors.New("state mismatch")
	}
	return f.users["jwt-1"], "jwt-1", nil
}

func (f *fakeAuth) LoginURL() string {
	return "https://fa.example/oauth2/authorize"
}

func (f *fakeAuth) Verifier() string {
	return "verifier-1"
}

func newTestServer(tr *fakeTransport) *Server {
	conf := config.Config{
		LocalDevUserID: "dev-user",
		Global:         config.Global{AllowedOrigins: []string{"portal.example"}},
		JWT:            config.JWT{CookieName: "portal_jwt"},
		FusionAuth:     config.FusionAuth{AuthCallbackRedirectURL: "https://portal.example/"},
	}
	return NewServer(conf, flow.NewBridge(tr, "dev-user"))
}

func do(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
}

func TestOriginCheck(t *testing.T) {
	r := newTestServer(newFakeTransport()).Router()

	w := do(r, "GET", "/ping", "")
	if w.Code != 200 {
		t.Fatalf("request without origin: %v", w.Code)
	}

	w = do(r, "GET", "/ping", "", "Origin", "https://portal.example")
	if w.Code != 200 || w.Header().Get("Access-Control-Allow-Origin") != "https://portal.example" {
		t.Fatalf("allowed origin: %v %v", w.Code, w.Header())
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("credentials must be allowed")
	}

	w = do(r, "GET", "/ping", "", "Referer", "https://evil.example/page")
	if w.Code != 404 {
		t.Fatalf("foreign referer: %v", w.Code)
	}

	w = do(r, "OPTIONS", "/api/services/actions", "", "Origin", "https://portal.example")
	if w.Code != 200 || w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("preflight: %v %v", w.Code, w.Header())
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), flow.VerificationTokenHeader) {
		t.Fatalf("preflight must allow the verification token: %v", w.Header())
	}
}

func TestServicesAndActions(t *testing.T) {
	tr := newFakeTransport()
	tr.bodies[flow.ServiceActions] = `{"newId":"pr-new"}`
	r := newTestServer(tr).Router()

	w := do(r, "POST", "/api/services/actions", `{"mode":"new","category":"Other Immigration Services","serviceId":"s-a","price":"60"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("action before load: %v %v", w.Code, w.Body.String())
	}

	w = do(r, "GET", "/api/services", "")
	if w.Code != 200 {
		t.Fatalf("services: %v %v", w.Code, w.Body.String())
	}
	view := struct {
		Profile models.Profile     `json:"profile"`
		Grid    []pricing.Category `json:"grid"`
		Wizard  onboarding.State   `json:"wizard"`
	}{}
	decode(t, w, &view)
	if len(view.Grid) != 2 || view.Grid[0].Name != "Permanent Residency Services" {
		t.Fatalf("unexpected grid %+v", view.Grid)
	}
	wantTabs := []string{"general", "Permanent Residency Services", "Other Immigration Services"}
	if fmt.Sprint(view.Wizard.Tabs) != fmt.Sprint(wantTabs) || view.Wizard.Active != "general" {
		t.Fatalf("unexpected wizard %+v", view.Wizard)
	}
	if view.Profile.FirstName != "Ada" || view.Profile.ProfileImage != models.DefaultAvatar {
		t.Fatalf("unexpected profile %+v", view.Profile)
	}

	w = do(r, "POST", "/api/services/actions", `{"mode":"new","category":"Other Immigration Services","serviceId":"s-a","price":"10"}`)
	if w.Code != 400 {
		t.Fatalf("below minimum: %v", w.Code)
	}
	if tr.count(flow.ServiceActions) != 0 {
		t.Fatal("invalid price must not reach the backend")
	}

	w = do(r, "POST", "/api/services/actions", `{"mode":"new","category":"Other Immigration Services","serviceId":"s-a","price":"60"}`)
	if w.Code != 200 {
		t.Fatalf("new: %v %v", w.Code, w.Body.String())
	}
	resp := struct {
		Grid []pricing.Category `json:"grid"`
	}{}
	decode(t, w, &resp)
	svc := resp.Grid[1].Services[0]
	if svc.PractitionerID == nil || *svc.PractitionerID != "pr-new" || *svc.CurrentPrice != 60 {
		t.Fatalf("unexpected service %+v", svc)
	}
}

func TestServiceActionRollbackResponse(t *testing.T) {
	tr := newFakeTransport()
	tr.errs[flow.ServiceActions] = &flow.CallError{Op: flow.ServiceActions, StatusCode: 500, Err: errors.New("boom")}
	r := newTestServer(tr).Router()
	do(r, "GET", "/api/services", "")

	w := do(r, "POST", "/api/services/actions", `{"mode":"new","category":"Other Immigration Services","serviceId":"s-a","price":"60"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %v", w.Code)
	}
	resp := struct {
		Error string             `json:"error"`
		Grid  []pricing.Category `json:"grid"`
	}{}
	decode(t, w, &resp)
	if resp.Error == "" || resp.Grid[1].Services[0].Offered() {
		t.Fatalf("expected rolled back grid, got %+v", resp)
	}
}

func TestNavigateGate(t *testing.T) {
	tr := newFakeTransport()
	r := newTestServer(tr).Router()
	do(r, "GET", "/api/services", "")

	w := do(r, "POST", "/api/onboarding/navigate", `{"target":"Other Immigration Services","generalInfo":{"specialty":""}}`)
	nav := struct {
		Moved  bool             `json:"moved"`
		Error  string           `json:"error"`
		Wizard onboarding.State `json:"wizard"`
	}{}
	decode(t, w, &nav)
	if nav.Moved || nav.Wizard.Active != "general" || nav.Error == "" {
		t.Fatalf("unsaved general step must block: %+v", nav)
	}

	w = do(r, "POST", "/api/onboarding/continue", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("continue before the last tab: %v", w.Code)
	}

	w = do(r, "POST", "/api/onboarding/navigate", `{"target":"Other Immigration Services","generalInfo":{"specialty":"Family","consultationRate":"10","hourlyRate":"20"}}`)
	nav = struct {
		Moved  bool             `json:"moved"`
		Error  string           `json:"error"`
		Wizard onboarding.State `json:"wizard"`
	}{}
	decode(t, w, &nav)
	if !nav.Moved || !nav.Wizard.FinalStepReached {
		t.Fatalf("expected to reach the last tab: %+v", nav)
	}
	if tr.count(flow.AdditionalInfo) != 1 {
		t.Fatal("expected one general info save")
	}

	tr.bodies[flow.Continue] = `{"message":"success","hasGeneralInfo":true}`
	w = do(r, "POST", "/api/onboarding/continue", "")
	if w.Code != 200 || !strings.Contains(w.Body.String(), onboarding.RouteMembership) {
		t.Fatalf("continue: %v %v", w.Code, w.Body.String())
	}
}

type okConfirmer struct{}

func (okConfirmer) Confirm(ctx context.Context, intentID, paymentMethodID string) (string, error) {
	return payments.IntentSucceeded, nil
}

func TestPaymentCheckout(t *testing.T) {
	tr := newFakeTransport()
	tr.bodies[flow.PaymentStatus] = `{"result":"pending","amount":120,"description":"X"}`
	tr.bodies[flow.PaymentIntentCreation] = `{"id":"pi_1","client_secret":"s"}`
	tr.bodies[flow.PaymentCreation] = `{"pp_payment_id":"rec-1"}`
	srv := newTestServer(tr)
	journal := userdata.NewMemoryStore()
	srv.Journal = journal
	srv.Checkout = &payments.Checkout{Bridge: srv.Bridge, Confirmer: okConfirmer{}, Journal: journal}
	r := srv.Router()

	w := do(r, "POST", "/api/payments/bv-1/checkout", `{"paymentMethodId":"pm_1"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("checkout before status: %v", w.Code)
	}

	w = do(r, "GET", "/api/payments/bv-1", "")
	snap := payments.Snapshot{}
	decode(t, w, &snap)
	if snap.Status != payments.StatusPending || snap.Amount != 120 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	w = do(r, "POST", "/api/payments/bv-1/checkout", `{}`)
	if w.Code != 400 {
		t.Fatalf("missing payment method: %v", w.Code)
	}

	w = do(r, "POST", "/api/payments/bv-1/checkout", `{"paymentMethodId":"pm_1"}`)
	if w.Code != 200 {
		t.Fatalf("checkout: %v %v", w.Code, w.Body.String())
	}

	w = do(r, "GET", "/api/payments/bv-1", "")
	snap = payments.Snapshot{}
	decode(t, w, &snap)
	if snap.Status != payments.StatusPaid {
		t.Fatalf("expected paid, got %+v", snap)
	}
	if tr.count(flow.PaymentStatus) != 1 {
		t.Fatal("a settled payment must not be checked again")
	}

	w = do(r, "GET", "/api/payments/bv-1/history", "")
	history := map[string]string{}
	decode(t, w, &history)
	if history["record"] != "rec-1" || history["status"] != "3" {
		t.Fatalf("unexpected history %v", history)
	}
}

func TestPaymentsAndSettings(t *testing.T) {
	tr := newFakeTransport()
	tr.bodies[flow.ListPayments] = `{"items":[{"id":"a","status":"pending","amount":5,"payUrl":"https://pay/a"}]}`
	tr.bodies[flow.LatestPending] = `null`
	tr.bodies[flow.SettingsGet] = `{"message":"success","firstName":"Ada","lastName":"L","status":"approved"}`
	r := newTestServer(tr).Router()

	w := do(r, "GET", "/api/payments", "")
	overview := payments.Overview{}
	decode(t, w, &overview)
	if len(overview.Items) != 1 || overview.LatestURL == nil || *overview.LatestURL != "https://pay/a" {
		t.Fatalf("unexpected overview %+v", overview)
	}

	w = do(r, "GET", "/api/settings", "")
	current := settings.Settings{}
	decode(t, w, &current)
	if current.FirstName != "Ada" || current.Membership.Status != settings.StatusApproved {
		t.Fatalf("unexpected settings %+v", current)
	}

	w = do(r, "POST", "/api/settings", `{"firstName":"Ada"}`)
	if w.Code != 400 {
		t.Fatalf("missing last name: %v", w.Code)
	}
	w = do(r, "POST", "/api/settings", `{"firstName":"Ada","lastName":"L"}`)
	if w.Code != 200 || tr.count(flow.SettingsSave) != 1 {
		t.Fatalf("save: %v", w.Code)
	}
}

func TestSignIn(t *testing.T) {
	tr := newFakeTransport()
	srv := newTestServer(tr)
	journal := userdata.NewMemoryStore()
	srv.Journal = journal
	user := fusionauth.User{}
	user.Id = "user-1"
	user.Email = "ada@example.com"
	srv.Auth = &fakeAuth{users: map[string]fusionauth.User{"jwt-1": user}}
	r := srv.Router()

	w := do(r, "GET", "/api/settings", "")
	if w.Code != 403 {
		t.Fatalf("no cookie: %v", w.Code)
	}
	w = do(r, "GET", "/api/settings", "", "Cookie", "portal_jwt=wrong")
	if w.Code != 403 {
		t.Fatalf("bad cookie: %v", w.Code)
	}

	w = do(r, "GET", "/auth/loggedin", "", "Cookie", "portal_jwt=jwt-1")
	resp := models.LoggedInResponse{}
	decode(t, w, &resp)
	if !resp.LoggedIn || resp.UserID != "user-1" || resp.UserEmail != "ada@example.com" {
		t.Fatalf("unexpected loggedin %+v", resp)
	}

	w = do(r, "GET", "/auth/login", "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "https://fa.example/oauth2/authorize" {
		t.Fatalf("login redirect: %v %v", w.Code, w.Header())
	}

	w = do(r, "GET", "/auth/oauth-cb?state=bad&code=c", "")
	if w.Code != 403 {
		t.Fatalf("bad state: %v", w.Code)
	}
	w = do(r, "GET", "/auth/oauth-cb?state=state-1&code=c", "")
	if w.Code != http.StatusFound || !strings.Contains(w.Header().Get("Set-Cookie"), "portal_jwt=jwt-1") {
		t.Fatalf("callback: %v %v", w.Code, w.Header())
	}
	if v, _ := journal.Get(context.Background(), "user-1", LastLoginField); v == "" {
		t.Fatal("sign-in must be recorded")
	}
}

func TestWorkspacesResetKeepsSessions(t *testing.T) {
	ws := NewWorkspaces(flow.NewBridge(newFakeTransport(), ""))
	first := ws.Get("u")
	s := first.Session("p")
	second := ws.Reset("u")
	if second == first {
		t.Fatal("reset must create a new workspace")
	}
	if got, ok := second.ExistingSession("p"); !ok || got != s {
		t.Fatal("payment sessions must survive a reset")
	}
	if ws.Get("u") != second {
		t.Fatal("get must return the reset workspace")
	}
}

func TestWorkspacesEvictIdle(t *testing.T) {
	ws := NewWorkspaces(flow.NewBridge(newFakeTransport(), ""))
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	ws.now = func() time.Time { return now }

	stale := ws.Get("stale")
	kept := ws.Get("kept")

	now = now.Add(DefaultWorkspaceIdle - time.Minute)
	if ws.Get("kept") != kept {
		t.Fatal("a recently used workspace must be kept")
	}

	now = now.Add(2 * time.Minute)
	ws.Get("other")
	if got := ws.Len(); got != 2 {
		t.Fatalf("expected the idle workspace to be dropped, %d held", got)
	}
	if ws.Get("stale") == stale {
		t.Fatal("an idle user must start over")
	}
	if ws.Get("kept") != kept {
		t.Fatal("kept workspace was replaced")
	}
}

func TestRequestID(t *testing.T) {
	r := newTestServer(newFakeTransport()).Router()

	w := do(r, "GET", "/ping", "", RequestIDHeader, "req-42")
	if got := w.Header().Get(RequestIDHeader); got != "req-42" {
		t.Fatalf("expected the caller's id echoed, got %q", got)
	}

	first := do(r, "GET", "/ping", "").Header().Get(RequestIDHeader)
	second := do(r, "GET", "/ping", "").Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("expected a generated uuid, got %q", first)
	}
	if first == second {
		t.Fatal("each request needs its own id")
	}
}

func TestEmbeddedCallsCarryCallerSession(t *testing.T) {
	type seen struct{ cookie, token string }
	var mu sync.Mutex
	var got []seen
	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, seen{cookie: r.Header.Get("Cookie"), token: r.Header.Get(flow.VerificationTokenHeader)})
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer portal.Close()

	conf := config.Config{
		Mode:  config.ModeEmbedded,
		Shell: config.Shell{Host: portal.URL, VerificationToken: "static"},
		JWT:   config.JWT{CookieName: "portal_jwt"},
		Flows: map[string]config.Endpoint{string(flow.SettingsGet): {Embedded: "/_api/flows/settings-get"}},
	}
	srv := NewServer(conf, flow.NewBridge(flow.NewTransport(conf, nil, portal.Client()), ""))
	alice := fusionauth.User{}
	alice.Id = "alice"
	bob := fusionauth.User{}
	bob.Id = "bob"
	srv.Auth = &fakeAuth{users: map[string]fusionauth.User{"jwt-a": alice, "jwt-b": bob}}
	r := srv.Router()

	w := do(r, "GET", "/api/settings", "",
		"Cookie", "portal_jwt=jwt-a; .AspNet.Cookies=alice-session",
		flow.VerificationTokenHeader, "rvt-a")
	if w.Code != 200 {
		t.Fatalf("alice: %v %s", w.Code, w.Body.String())
	}
	w = do(r, "GET", "/api/settings", "",
		"Cookie", "portal_jwt=jwt-b; .AspNet.Cookies=bob-session",
		flow.VerificationTokenHeader, "rvt-b")
	if w.Code != 200 {
		t.Fatalf("bob: %v %s", w.Code, w.Body.String())
	}

	want := []seen{
		{cookie: ".AspNet.Cookies=alice-session", token: "rvt-a"},
		{cookie: ".AspNet.Cookies=bob-session", token: "rvt-b"},
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("expected %d portal calls, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: &pricing.ValidationError{Msg: "x"}, want: 400},
		{err: fmt.Errorf("wrapped: %w", &onboarding.ValidationError{Msg: "x"}), want: 400},
		{err: settings.ErrNameRequired, want: 400},
		{err: pricing.ErrNotLoaded, want: 409},
		{err: pricing.ErrRowBusy, want: 409},
		{err: payments.ErrCheckoutInProgress, want: 409},
		{err: &payments.TransitionError{From: payments.StatusPaid, To: payments.StatusLoading}, want: 409},
		{err: &auth.AuthError{StatusCode: 500, Msg: "x"}, want: 502},
		{err: fmt.Errorf("x: %w", &flow.CallError{Op: flow.Services, Err: errors.New("y")}), want: 502},
		{err: errors.New("other"), want: 500},
	}
	for _, tt := range tests {
		if got := ErrorStatus(tt.err); got != tt.want {
			t.Fatalf("ErrorStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
