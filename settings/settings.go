// Package settings loads and saves the practitioner's profile settings.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"portal-middleware/flow"
	"portal-middleware/models"
)

// Membership statuses the settings page understands.
const (
	StatusApproved    = "approved"
	StatusUnderReview = "underReview"
	StatusOnboarding  = "onboarding"
	StatusRejected    = "rejected"
	StatusSuspended   = "suspended"
)

var ErrNameRequired = errors.New("first and last name are required")

// Caller is the part of the flow bridge settings use.
type Caller interface {
	Call(ctx context.Context, op flow.Operation, payload interface{}, out interface{}) error
	LocalUserID() string
}

// Language is one selectable language. Codes are compared as strings since
// the backend sends them as numbers or strings.
type Language struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type language struct {
	Name string      `json:"name"`
	Code flow.String `json:"code"`
}

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
	AptUnit string `json:"aptUnit"`
}

type Membership struct {
	Status      string `json:"status"`
	MemberSince string `json:"memberSince"`
	ExpiryDate  string `json:"expiryDate"`
	Tier        string `json:"tier"`
}

type Licensing struct {
	LicenseNumber    string `json:"licenseNumber"`
	IssuingAuthority string `json:"issuingAuthority"`
	IsLawyer         bool   `json:"isLawyer"`
	YearsInPractice  int    `json:"yearsInPractice"`
}

// Settings is the whole settings page.
type Settings struct {
	FirstName          string     `json:"firstName"`
	LastName           string     `json:"lastName"`
	Phone              string     `json:"phone"`
	ProfileImage       string     `json:"profileImage"`
	Available          bool       `json:"available"`
	Languages          []Language `json:"languages"`
	Biography          string     `json:"biography"`
	Membership         Membership `json:"membership"`
	Address            Address    `json:"address"`
	Licensing          Licensing  `json:"licensing"`
	AvailableLanguages []Language `json:"availableLanguages"`
}

type settingsResponse struct {
	Message            string       `json:"message"`
	FirstName          string       `json:"firstName"`
	LastName           string       `json:"lastName"`
	Available          flow.Bool    `json:"available"`
	AptUnit            string       `json:"aptUnit"`
	PhoneNumber        string       `json:"phoneNumber"`
	ProfileImage       string       `json:"profileImage"`
	Languages          string       `json:"languages"`
	Biography          *string      `json:"biography"`
	Membership         string       `json:"membership"`
	Status             string       `json:"status"`
	MemberSince        string       `json:"memberSince"`
	ExpiryDate         string       `json:"expiryDate"`
	Street             string       `json:"street"`
	City               string       `json:"city"`
	Province           string       `json:"province"`
	ZipCode            string       `json:"zipCode"`
	Country            string       `json:"country"`
	LicenseNumber      string       `json:"licenseNumber"`
	IssuingAuthority   string       `json:"issuingAuthority"`
	IsLawyer           flow.Bool    `json:"isLawyer"`
	YearsInPractice    flow.Decimal `json:"yearsInPractice"`
	AvailableLanguages []language   `json:"availableLanguages"`
}

type savePayload struct {
	UserID          string `json:"userid,omitempty"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Available       bool   `json:"available"`
	PhoneNumber     string `json:"phoneNumber"`
	Biography       string `json:"biography"`
	Status          string `json:"status,omitempty"`
	Street          string `json:"street"`
	City            string `json:"city"`
	ZipCode         string `json:"zipCode"`
	AptUnit         string `json:"aptUnit"`
	YearsInPractice int    `json:"yearsInPractice"`
	ProfileImage    string `json:"profileImage"`
	Languages       string `json:"languages"`
}

// Empty is what the page shows before anything was loaded.
func Empty() Settings {
	return Settings{
		ProfileImage:       models.DefaultAvatar,
		Languages:          []Language{},
		Membership:         Membership{Status: StatusUnderReview},
		AvailableLanguages: []Language{},
	}
}

// Load reads the settings. An answer that is not a success yields Empty.
func Load(ctx context.Context, bridge Caller) (Settings, error) {
	resp := settingsResponse{}
	err := bridge.Call(ctx, flow.SettingsGet, models.UserPayload{UserID: bridge.LocalUserID()}, &resp)
	if err != nil {
		return Empty(), fmt.Errorf("failed to load settings: %w", err)
	}
	if resp.Message != "success" {
		return Empty(), nil
	}

	all := make([]Language, 0, len(resp.AvailableLanguages))
	for _, l := range resp.AvailableLanguages {
		all = append(all, Language{Name: l.Name, Code: string(l.Code)})
	}
	biography := ""
	if resp.Biography != nil {
		biography = *resp.Biography
	}

	return Settings{
		FirstName:    resp.FirstName,
		LastName:     resp.LastName,
		Phone:        resp.PhoneNumber,
		ProfileImage: models.ProfileImageURL(resp.ProfileImage),
		Available:    bool(resp.Available),
		Languages:    SelectLanguages(resp.Languages, all),
		Biography:    biography,
		Membership: Membership{
			Status:      NormalizeStatus(resp.Status),
			MemberSince: resp.MemberSince,
			ExpiryDate:  resp.ExpiryDate,
			Tier:        resp.Membership,
		},
		Address: Address{
			Street:  resp.Street,
			City:    resp.City,
			State:   resp.Province,
			ZipCode: resp.ZipCode,
			Country: resp.Country,
			AptUnit: resp.AptUnit,
		},
		Licensing: Licensing{
			LicenseNumber:    resp.LicenseNumber,
			IssuingAuthority: resp.IssuingAuthority,
			IsLawyer:         bool(resp.IsLawyer),
			YearsInPractice:  int(resp.YearsInPractice),
		},
		AvailableLanguages: all,
	}, nil
}

// Save writes the editable part of the settings. First and last name are
// required.
func Save(ctx context.Context, bridge Caller, s Settings) error {
	if strings.TrimSpace(s.FirstName) == "" || strings.TrimSpace(s.LastName) == "" {
		return ErrNameRequired
	}
	payload := savePayload{
		UserID:          bridge.LocalUserID(),
		FirstName:       s.FirstName,
		LastName:        s.LastName,
		Available:       s.Available,
		PhoneNumber:     s.Phone,
		Biography:       s.Biography,
		Status:          s.Membership.Status,
		Street:          s.Address.Street,
		City:            s.Address.City,
		ZipCode:         s.Address.ZipCode,
		AptUnit:         s.Address.AptUnit,
		YearsInPractice: s.Licensing.YearsInPractice,
		ProfileImage:    models.RawProfileImage(s.ProfileImage),
		Languages:       JoinCodes(s.Languages),
	}
	if err := bridge.Call(ctx, flow.SettingsSave, payload, nil); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// SelectLanguages maps a comma-separated code list onto the known languages,
// dropping codes that are not offered.
func SelectLanguages(codes string, all []Language) []Language {
	selected := []Language{}
	for _, code := range strings.Split(codes, ",") {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		for _, l := range all {
			if l.Code == code {
				selected = append(selected, l)
				break
			}
		}
	}
	return selected
}

// JoinCodes is the wire form of a language selection.
func JoinCodes(langs []Language) string {
	codes := make([]string, 0, len(langs))
	for _, l := range langs {
		codes = append(codes, l.Code)
	}
	return strings.Join(codes, ",")
}

// NormalizeStatus maps the backend's membership status onto the known
// statuses, ignoring case and spaces. Anything unknown is under review.
func NormalizeStatus(status string) string {
	s := strings.ToLower(strings.Join(strings.Fields(status), ""))
	switch s {
	case "approved":
		return StatusApproved
	case "underreview":
		return StatusUnderReview
	case "onboarding":
		return StatusOnboarding
	case "rejected":
		return StatusRejected
	case "suspended":
		return StatusSuspended
	}
	return StatusUnderReview
}
