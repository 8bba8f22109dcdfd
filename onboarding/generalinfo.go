package onboarding

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"portal-middleware/flow"
	"portal-middleware/models"
)

// ValidationError is a form problem caught before calling the backend.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// GeneralInfo is the mandatory first step of the services wizard. Rates are
// kept as the strings the user typed until save.
type GeneralInfo struct {
	Specialty        string `json:"specialty"`
	FreeConsultation bool   `json:"freeConsultation"`
	ConsultationRate string `json:"consultationRate"`
	HourlyRate       string `json:"hourlyRate"`
}

type generalInfoResponse struct {
	Message        string `json:"message"`
	AdditionalInfo *struct {
		Specialty        string       `json:"specialty"`
		FreeConsultation flow.Bool    `json:"freeconsultation"`
		ConsultationRate flow.Decimal `json:"consultationrate"`
		HourlyRate       flow.Decimal `json:"hourlyrate"`
	} `json:"additionalinfo"`
}

// LoadGeneralInfo reads the saved general information. A response that is
// not a success leaves the form empty.
func LoadGeneralInfo(ctx context.Context, bridge Caller) (GeneralInfo, error) {
	payload := models.GeneralInfoPayload{Reason: "get", UserID: bridge.LocalUserID()}
	resp := generalInfoResponse{}
	if err := bridge.Call(ctx, flow.AdditionalInfo, payload, &resp); err != nil {
		return GeneralInfo{}, fmt.Errorf("failed to load general information: %w", err)
	}
	if resp.Message != "success" || resp.AdditionalInfo == nil {
		return GeneralInfo{}, nil
	}
	info := resp.AdditionalInfo
	return GeneralInfo{
		Specialty:        info.Specialty,
		FreeConsultation: bool(info.FreeConsultation),
		ConsultationRate: formatRate(info.ConsultationRate),
		HourlyRate:       formatRate(info.HourlyRate),
	}, nil
}

func formatRate(d flow.Decimal) string {
	if d == 0 {
		return ""
	}
	return strconv.FormatFloat(d.Float64(), 'f', -1, 64)
}

// Validate checks the required fields and parses both rates.
func (g GeneralInfo) Validate() (consultation, hourly float64, err error) {
	if strings.TrimSpace(g.Specialty) == "" || strings.TrimSpace(g.ConsultationRate) == "" || strings.TrimSpace(g.HourlyRate) == "" {
		return 0, 0, &ValidationError{Msg: "Please fill all required General Information fields."}
	}
	consultation, err = strconv.ParseFloat(strings.TrimSpace(g.ConsultationRate), 64)
	if err != nil || consultation < 0 {
		return 0, 0, &ValidationError{Msg: "Consultation rate must be a number."}
	}
	hourly, err = strconv.ParseFloat(strings.TrimSpace(g.HourlyRate), 64)
	if err != nil || hourly < 0 {
		return 0, 0, &ValidationError{Msg: "Hourly rate must be a number."}
	}
	return consultation, hourly, nil
}

// SaveGeneralInfo validates and persists the general step.
func SaveGeneralInfo(ctx context.Context, bridge Caller, g GeneralInfo) error {
	consultation, hourly, err := g.Validate()
	if err != nil {
		return err
	}
	payload := models.GeneralInfoPayload{
		Reason:           "update",
		Specialty:        g.Specialty,
		FreeConsultation: g.FreeConsultation,
		ConsultationRate: consultation,
		HourlyRate:       hourly,
		UserID:           bridge.LocalUserID(),
	}
	if err := bridge.Call(ctx, flow.AdditionalInfo, payload, nil); err != nil {
		return fmt.Errorf("failed to save general information: %w", err)
	}
	return nil
}
