package settings

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"portal-middleware/flow"
)

type fakeTransport struct {
	body     string
	err      error
	ops      []flow.Operation
	payloads []map[string]interface{}
}

func (f *fakeTransport) Invoke(ctx context.Context, op flow.Operation, payload interface{}) ([]byte, error) {
	b, _ := json.Marshal(payload)
	p := map[string]interface{}{}
	_ = json.Unmarshal(b, &p)
	f.ops = append(f.ops, op)
	f.payloads = append(f.payloads, p)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.body), nil
}

const loaded = `{
	"message": "success",
	"firstName": "Ada",
	"lastName": "Lovelace",
	"available": "True",
	"phoneNumber": "555",
	"profileImage": "QUJD",
	"languages": "1, 3,9",
	"biography": null,
	"membership": "Gold",
	"status": "Under Review",
	"street": "1 Main",
	"province": "ON",
	"isLawyer": true,
	"yearsInPractice": "12",
	"availableLanguages": [{"name":"English","code":1},{"name":"French","code":"2"},{"name":"Spanish","code":3}]
}`

func TestLoad(t *testing.T) {
	tr := &fakeTransport{body: loaded}
	s, err := Load(context.Background(), flow.NewBridge(tr, "dev"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tr.ops[0] != flow.SettingsGet || tr.payloads[0]["userid"] != "dev" {
		t.Fatalf("unexpected call %v %v", tr.ops, tr.payloads)
	}

	wantLangs := []Language{{Name: "English", Code: "1"}, {Name: "Spanish", Code: "3"}}
	if !reflect.DeepEqual(s.Languages, wantLangs) {
		t.Fatalf("got languages %v", s.Languages)
	}
	if len(s.AvailableLanguages) != 3 || s.AvailableLanguages[1].Code != "2" {
		t.Fatalf("got available languages %v", s.AvailableLanguages)
	}
	if s.ProfileImage != "data:image/png;base64,QUJD" {
		t.Fatalf("got image %q", s.ProfileImage)
	}
	if !s.Available || s.Biography != "" || s.Membership.Status != StatusUnderReview || s.Membership.Tier != "Gold" {
		t.Fatalf("unexpected settings %+v", s)
	}
	if s.Address.State != "ON" || !s.Licensing.IsLawyer || s.Licensing.YearsInPractice != 12 {
		t.Fatalf("unexpected address or licensing %+v %+v", s.Address, s.Licensing)
	}
}

func TestLoadNotSuccess(t *testing.T) {
	tr := &fakeTransport{body: `{"message":"not found"}`}
	s, err := Load(context.Background(), flow.NewBridge(tr, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(s, Empty()) {
		t.Fatalf("expected empty settings, got %+v", s)
	}
}

func TestSave(t *testing.T) {
	tr := &fakeTransport{body: `{}`}
	s := Settings{
		FirstName:    "Ada",
		LastName:     "Lovelace",
		ProfileImage: "data:image/jpeg;base64,WFla",
		Languages:    []Language{{Name: "English", Code: "1"}, {Name: "Spanish", Code: "3"}},
		Membership:   Membership{Status: StatusApproved},
		Licensing:    Licensing{YearsInPractice: 4},
	}
	if err := Save(context.Background(), flow.NewBridge(tr, ""), s); err != nil {
		t.Fatalf("save: %v", err)
	}
	p := tr.payloads[0]
	if tr.ops[0] != flow.SettingsSave || p["languages"] != "1,3" || p["profileImage"] != "WFla" || p["yearsInPractice"] != float64(4) {
		t.Fatalf("unexpected payload %v", p)
	}
	if _, ok := p["userid"]; ok {
		t.Fatal("embedded mode must not send userid")
	}

	s.ProfileImage = "/default-avatar.png"
	_ = Save(context.Background(), flow.NewBridge(tr, ""), s)
	if tr.payloads[1]["profileImage"] != "" {
		t.Fatal("the default avatar must not be uploaded")
	}
}

func TestSaveRequiresName(t *testing.T) {
	tr := &fakeTransport{}
	err := Save(context.Background(), flow.NewBridge(tr, ""), Settings{FirstName: "Ada", LastName: "  "})
	if !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
	if len(tr.ops) != 0 {
		t.Fatal("no backend call expected")
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]string{
		"Approved":     StatusApproved,
		"under review": StatusUnderReview,
		"ONBOARDING":   StatusOnboarding,
		"Rejected":     StatusRejected,
		"suspended":    StatusSuspended,
		"":             StatusUnderReview,
		"banana":       StatusUnderReview,
	}
	for in, want := range tests {
		if got := NormalizeStatus(in); got != want {
			t.Fatalf("NormalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
