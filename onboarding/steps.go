package onboarding

import (
	"context"
	"errors"
	"fmt"

	"portal-middleware/flow"
	"portal-middleware/models"
)

// Routes the onboarding step check can send the user to.
const (
	RouteOnboarding = "/practitioner-onboarding"
	RouteServices   = "/onboarding-services"
	RouteMembership = "/onboarding-membership"
	RoutePayment    = "/onboarding-payment/"
	RouteDashboard  = "/practitioner-dashboard"
)

// stepRoutes maps the backend's onboarding status code to a page.
var stepRoutes = map[int]string{
	0: RouteOnboarding,
	1: RouteServices,
	2: RouteMembership,
	3: RoutePayment,
	4: RouteDashboard,
}

var (
	ErrFinalStepNotReached = errors.New("the last step has not been reached")
	ErrGeneralInfoMissing  = errors.New("general information must be saved before proceeding")
)

// Caller is the part of the flow bridge onboarding uses.
type Caller interface {
	Call(ctx context.Context, op flow.Operation, payload interface{}, out interface{}) error
	LocalUserID() string
}

// Step is where the step check says the user belongs.
type Step struct {
	Status   int    `json:"status"`
	Redirect string `json:"redirect"`
	// Stay is true when the user belongs on the services page itself.
	Stay bool `json:"stay"`
}

// CheckStep asks the backend which onboarding stage the user is at.
func CheckStep(ctx context.Context, bridge Caller) (Step, error) {
	resp := models.StepCheckResponse{}
	err := bridge.Call(ctx, flow.StepCheck, models.UserPayload{UserID: bridge.LocalUserID()}, &resp)
	if err != nil {
		return Step{}, fmt.Errorf("failed to check onboarding step: %w", err)
	}
	route, ok := stepRoutes[resp.Status]
	if !ok {
		return Step{Status: resp.Status}, fmt.Errorf("invalid onboarding status: %v", resp.Status)
	}
	return Step{
		Status:   resp.Status,
		Redirect: route,
		Stay:     route == RouteServices,
	}, nil
}

// Continue moves the user on to the membership stage. It is only offered
// once the wizard's last tab is active.
func Continue(ctx context.Context, bridge Caller, w *Wizard) (string, error) {
	if !w.FinalStepReached() {
		return "", ErrFinalStepNotReached
	}
	payload := models.ContinuePayload{
		Status: 2,
		Plan:   "",
		Waived: false,
		UserID: bridge.LocalUserID(),
	}
	resp := models.ContinueResponse{}
	if err := bridge.Call(ctx, flow.Continue, payload, &resp); err != nil {
		return "", fmt.Errorf("failed to continue to membership: %w", err)
	}
	if resp.Message != "success" || !resp.HasGeneralInfo {
		return "", ErrGeneralInfoMissing
	}
	return RouteMembership, nil
}
