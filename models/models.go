package models

import (
	"strings"

	"portal-middleware/flow"
)

type OauthState struct {
	State    string `json:"state"`
	Code     string `json:"code"`
	Verifier string
}

type LoggedInResponse struct {
	LoggedIn     bool   `json:"loggedIn"`
	UserID       string `json:"userId"`
	UserEmail    string `json:"userEmail"`
	UserFullName string `json:"userFullName"`
}

// UserData is one row of the per-user key/value store.
type UserData struct {
	UserID    string
	AppID     string
	TenantID  string
	Field     string
	Value     string
	UpdatedAt int64
}

// Profile is the header shown next to every page: name and avatar.
type Profile struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	ProfileImage string `json:"profileImage"`
}

const DefaultAvatar = "/default-avatar.png"

// ProfileImageURL turns the base64 image the backend returns into something
// an <img> can show.
func ProfileImageURL(b64 string) string {
	if b64 == "" {
		return DefaultAvatar
	}
	return "data:image/png;base64," + b64
}

// RawProfileImage is the reverse of ProfileImageURL: the base64 part of a
// data URL, or "" for anything else such as the default avatar path.
func RawProfileImage(url string) string {
	if !strings.HasPrefix(url, "data:image/") {
		return ""
	}
	i := strings.Index(url, ",")
	if i < 0 {
		return ""
	}
	return url[i+1:]
}

// ServiceActionPayload is sent to the service actions workflow.
type ServiceActionPayload struct {
	Mode   string `json:"mode"`
	PrID   string `json:"prid"`
	Price  string `json:"price"`
	UserID string `json:"userid,omitempty"`
}

type ServiceActionResponse struct {
	NewID string `json:"newId"`
}

type UserPayload struct {
	UserID string `json:"userid,omitempty"`
}

type PaymentStatusPayload struct {
	PID    string `json:"pid"`
	UserID string `json:"userid,omitempty"`
}

type PaymentStatusResponse struct {
	Result      string                 `json:"result"`
	Amount      flow.Decimal           `json:"amount"`
	Description string                 `json:"description"`
	UserInfo    map[string]interface{} `json:"userInfo,omitempty"`
	TestCase    bool                   `json:"testCase,omitempty"`
}

type PaymentIntentPayload struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type PaymentIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

type PaymentRecordPayload struct {
	UserID              string `json:"userid,omitempty"`
	BVPaymentID         string `json:"bv_payment_id"`
	PPPaymentIdentifier string `json:"pp_paymentidentifier"`
	PPPaymentMethod     string `json:"pp_paymentmethod"`
}

type PaymentRecordResponse struct {
	PPPaymentID string `json:"pp_payment_id"`
}

type PaymentUpdatePayload struct {
	PPPaymentID     string `json:"pp_payment_id"`
	PPPaymentStatus int    `json:"pp_paymentstatus"`
}

type ContinuePayload struct {
	Status int    `json:"status"`
	Plan   string `json:"plan"`
	Waived bool   `json:"waived"`
	UserID string `json:"userid,omitempty"`
}

type ContinueResponse struct {
	Message        string `json:"message"`
	HasGeneralInfo bool   `json:"hasGeneralInfo"`
}

type StepCheckResponse struct {
	Status int `json:"status"`
}

// GeneralInfoPayload is the wire shape of the additional info workflow; the
// same operation serves reads (reason=get) and writes (reason=update).
type GeneralInfoPayload struct {
	Reason           string  `json:"reason"`
	Specialty        string  `json:"specialty"`
	FreeConsultation bool    `json:"freeconsultation"`
	ConsultationRate float64 `json:"consultationrate"`
	HourlyRate       float64 `json:"hourlyrate"`
	UserID           string  `json:"userid,omitempty"`
}
