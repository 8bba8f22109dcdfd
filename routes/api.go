package routes

import (
	"errors"
	"log"
	"net/http"

	"portal-middleware/auth"
	"portal-middleware/config"
	"portal-middleware/flow"
	"portal-middleware/helpers"
	"portal-middleware/models"
	"portal-middleware/onboarding"
	"portal-middleware/payments"
	"portal-middleware/pricing"
	"portal-middleware/settings"
	"portal-middleware/userdata"

	"github.com/gin-gonic/gin"
)

// Bridge is the flow bridge as the handlers use it.
type Bridge interface {
	bridge
	payments.Caller
	settings.Caller
}

// Server holds everything the handlers need. Auth, Checkout, Journal and
// Tokens are optional.
type Server struct {
	Conf       config.Config
	Bridge     Bridge
	Auth       Authenticator
	Checkout   *payments.Checkout
	Journal    userdata.Store
	Tokens     *auth.TokenServer
	Workspaces *Workspaces
}

func NewServer(conf config.Config, b Bridge) *Server {
	return &Server{
		Conf:       conf,
		Bridge:     b,
		Workspaces: NewWorkspaces(b),
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	r.Use(RequestID(), OriginCheck(s.Conf), ForwardPortalSession(s.Conf))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	if s.Tokens != nil {
		r.POST("/api/get-token", s.Tokens.Handle)
	}

	r.GET("/auth/loggedin", s.LoggedIn)
	if s.Auth != nil {
		r.GET("/auth/login", s.Login)
		r.GET("/auth/oauth-cb", s.OauthCallback)
	}

	api := r.Group("/api")
	api.GET("/services", s.GetServices)
	api.POST("/services/actions", s.PostServiceAction)
	api.GET("/general-info", s.GetGeneralInfo)
	api.POST("/general-info", s.PostGeneralInfo)
	api.GET("/onboarding", s.GetOnboarding)
	api.POST("/onboarding/navigate", s.PostNavigate)
	api.POST("/onboarding/continue", s.PostContinue)
	api.GET("/payments", s.GetPayments)
	api.GET("/payments/:pid", s.GetPaymentStatus)
	api.POST("/payments/:pid/checkout", s.PostCheckout)
	api.GET("/payments/:pid/history", s.GetPaymentHistory)
	api.GET("/settings", s.GetSettings)
	api.POST("/settings", s.PostSettings)

	return r
}

// ErrorStatus maps errors from the data packages to http statuses.
func ErrorStatus(err error) int {
	var authErr *auth.AuthError
	var callErr *flow.CallError
	var priceErr *pricing.ValidationError
	var formErr *onboarding.ValidationError
	var transitionErr *payments.TransitionError
	switch {
	case errors.As(err, &priceErr),
		errors.As(err, &formErr),
		errors.Is(err, settings.ErrNameRequired):
		return http.StatusBadRequest
	case errors.Is(err, pricing.ErrNotLoaded),
		errors.Is(err, pricing.ErrRowBusy),
		errors.Is(err, onboarding.ErrFinalStepNotReached),
		errors.Is(err, onboarding.ErrGeneralInfoMissing),
		errors.Is(err, payments.ErrNotPending),
		errors.Is(err, payments.ErrCheckoutInProgress),
		errors.As(err, &transitionErr):
		return http.StatusConflict
	case errors.As(err, &authErr),
		errors.As(err, &callErr),
		errors.Is(err, payments.ErrNoPaymentIntent),
		errors.Is(err, payments.ErrNoPaymentRecord):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	code := ErrorStatus(err)
	if code >= 500 {
		log.Printf("[%s] %v %v failed: %v", c.GetString(requestIDKey), c.Request.Method, c.Request.URL.Path, err.Error())
	}
	helpers.JSONError(c, code, err.Error())
}

func (s *Server) workspace(c *gin.Context) (*Workspace, bool) {
	userID, err := s.GetUserIDFromGin(c) // will set the gin response if there's an error
	if err != nil {
		return nil, false
	}
	return s.Workspaces.Get(userID), true
}

type servicesView struct {
	Profile models.Profile   `json:"profile"`
	Grid    *pricing.Grid    `json:"grid"`
	Wizard  onboarding.State `json:"wizard"`
}

// GetServices is a fresh page load: the user's workspace starts over and the
// grid is fetched again.
func (s *Server) GetServices(c *gin.Context) {
	userID, err := s.GetUserIDFromGin(c)
	if err != nil {
		return
	}
	ws := s.Workspaces.Reset(userID)
	grid, err := ws.Pricing.Load(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	ws.Wizard.SetTabs(grid.TabNames())
	c.JSON(200, servicesView{
		Profile: ws.Pricing.Profile(),
		Grid:    grid,
		Wizard:  ws.Wizard.State(),
	})
}

func (s *Server) PostServiceAction(c *gin.Context) {
	ws, ok := s.workspace(c)
	if !ok {
		return
	}
	action := pricing.Action{}
	if err := c.ShouldBindJSON(&action); err != nil {
		helpers.JSONError(c, 400, "invalid action")
		return
	}
	grid, err := ws.Pricing.ApplyAction(c.Request.Context(), action)
	if err != nil {
		c.JSON(ErrorStatus(err), gin.H{"error": err.Error(), "grid": grid})
		return
	}
	c.JSON(200, gin.H{"grid": grid})
}

func (s *Server) GetGeneralInfo(c *gin.Context) {
	ws, ok := s.workspace(c)
	if !ok {
		return
	}
	info, err := onboarding.LoadGeneralInfo(c.Request.Context(), s.Bridge)
	if err != nil {
		respondError(c, err)
		return
	}
	ws.SetDraft(info)
	c.JSON(200, info)
}

func (s *Server) PostGeneralInfo(c *gin.Context) {
	ws, ok := s.workspace(c)
	if !ok {
		return
	}
	info := onboarding.GeneralInfo{}
	if err := c.ShouldBindJSON(&info); err != nil {
		helpers.JSONError(c, 400, "invalid general information")
		return
	}
	ws.SetDraft(info)
	if err := onboarding.SaveGeneralInfo(c.Request.Context(), s.Bridge, info); err != nil {
		respondError(c, err)
		return
	}
	ws.Wizard.MarkGeneralSaved()
	c.JSON(200, gin.H{"wizard": ws.Wizard.State()})
}

func (s *Server) GetOnboarding(c *gin.Context) {
	ws, ok := s.workspace(c)
	if !ok {
		return
	}
	step, err := onboarding.CheckStep(c.Request.Context(), s.Bridge)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, gin.H{"step": step, "wizard": ws.Wizard.State()})
}

type navigateRequest struct {
	Target      string                  `json:"target"`
	GeneralInfo *onboarding.GeneralInfo `json:"generalInfo"`
}

// PostNavigate moves the wizard. Leaving the unsaved general step saves the
// general information sent along with the request, or the last draft.
func (s *Server) PostNavigate(c *gin.Context) {
	ws, ok := s.workspace(c)
	if !ok {
		return
	}
	req := navigateRequest{}
	if err := c.ShouldBindJSON(&req); err != nil || req.Target == "" {
		helpers.JSONError(c, 400, "invalid navigation")
		return
	}
	if req.GeneralInfo != nil {
		ws.SetDraft(*req.GeneralInfo)
	}
	ws.mu.Lock()
	ws.saveErr = nil
	ws.mu.Unlock()
	moved := ws.Wizard.RequestNavigation(c.Request.Context(), req.Target)
	resp := gin.H{"moved": moved, "wizard": ws.Wizard.State()}
	if !moved {
		if err := ws.LastSaveError(); err != nil {
			resp["error"] = err.Error()
		}
	}
	c.JSON(200, resp)
}

func (s *Server) PostContinue(c *gin.Context) {
	ws, ok := s.workspace(c)
	if !ok {
		return
	}
	route, err := onboarding.Continue(c.Request.Context(), s.Bridge, ws.Wizard)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, gin.H{"redirect": route})
}

func (s *Server) GetPayments(c *gin.Context) {
	if _, err := s.GetUserIDFromGin(c); err != nil {
		return
	}
	overview, err := payments.ListPayments(c.Request.Context(), s.Bridge)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, overview)
}

// GetPaymentStatus opens the payment link. A session that is loading or in
// error is (re)checked; settled sessions are returned as they are.
func (s *Server) GetPaymentStatus(c *gin.Context) {
	ws, ok := s.workspace(c)
	if !ok {
		return
	}
	session := ws.Session(c.Param("pid"))
	switch session.Status() {
	case payments.StatusLoading, payments.StatusError:
		if err := payments.CheckPaymentStatus(c.Request.Context(), s.Bridge, session); err != nil {
			log.Printf("payment %v: %v", session.PaymentID(), err.Error())
		}
	}
	c.JSON(200, session.Snapshot())
}

type checkoutRequest struct {
	PaymentMethodID string `json:"paymentMethodId"`
}

func (s *Server) PostCheckout(c *gin.Context) {
	ws, ok := s.workspace(c)
	if !ok {
		return
	}
	if s.Checkout == nil {
		helpers.JSONError(c, 503, "checkout is not configured")
		return
	}
	session, ok := ws.ExistingSession(c.Param("pid"))
	if !ok {
		helpers.JSONError(c, 409, payments.ErrNotPending.Error())
		return
	}
	req := checkoutRequest{}
	if err := c.ShouldBindJSON(&req); err != nil || req.PaymentMethodID == "" {
		helpers.JSONError(c, 400, "paymentMethodId is required")
		return
	}
	if err := s.Checkout.Submit(c.Request.Context(), session, req.PaymentMethodID); err != nil {
		c.JSON(ErrorStatus(err), gin.H{"error": err.Error(), "payment": session.Snapshot()})
		return
	}
	c.JSON(200, gin.H{"payment": session.Snapshot()})
}

func (s *Server) GetPaymentHistory(c *gin.Context) {
	ws, ok := s.workspace(c)
	if !ok {
		return
	}
	if s.Journal == nil {
		c.JSON(200, gin.H{})
		return
	}
	history, err := payments.History(c.Request.Context(), s.Journal, ws.UserID, c.Param("pid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, history)
}

func (s *Server) GetSettings(c *gin.Context) {
	if _, err := s.GetUserIDFromGin(c); err != nil {
		return
	}
	current, err := settings.Load(c.Request.Context(), s.Bridge)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, current)
}

func (s *Server) PostSettings(c *gin.Context) {
	if _, err := s.GetUserIDFromGin(c); err != nil {
		return
	}
	update := settings.Settings{}
	if err := c.ShouldBindJSON(&update); err != nil {
		helpers.JSONError(c, 400, "invalid settings")
		return
	}
	if err := settings.Save(c.Request.Context(), s.Bridge, update); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, gin.H{"message": "success"})
}
