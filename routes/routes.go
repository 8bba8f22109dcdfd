package routes

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"portal-middleware/config"
	"portal-middleware/flow"
	"portal-middleware/helpers"
	"portal-middleware/models"

	"github.com/FusionAuth/go-client/pkg/fusionauth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AnonymousUser keys the shared workspace when no sign-in is configured and
// no local dev user is set.
const AnonymousUser = "anonymous"

var ErrUnauthorized = errors.New("unauthorized")

// Authenticator is the FusionAuth sign-in used to identify portal users.
type Authenticator interface {
	GetUserByJWT(jwt string) (fusionauth.User, error)
	Exchange(oauths models.OauthState) (fusionauth.User, string, error)
	LoginURL() string
	Verifier() string
}

// SetCORSViaRouteOrigin sets the CORS headers that will allow HttpOnly
// cookies to work when requests are made via the web browser. Requests
// without an Origin or Referer are same-origin or not from a browser and
// pass through untouched.
func SetCORSViaRouteOrigin(c *gin.Context, conf config.Config) bool {
	originHeader := c.Request.Header.Get("Origin")
	if originHeader == "" {
		referer := c.Request.Header.Get("Referer")
		if referer == "" {
			return true
		}
		originHeader = referer
	}
	parsedURL, err := url.Parse(originHeader)
	if err != nil || parsedURL.Host == "" {
		return false
	}
	if !conf.IsAllowedOrigin(parsedURL.Host) {
		log.Printf("rejected origin: %v", parsedURL.Host)
		return false
	}
	c.Header("Access-Control-Allow-Origin", fmt.Sprintf("%v://%v", parsedURL.Scheme, parsedURL.Host))
	c.Header("Access-Control-Allow-Credentials", "true")
	return true
}

// OriginCheck is SetCORSViaRouteOrigin as middleware. It also answers CORS
// preflight requests.
func OriginCheck(conf config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !SetCORSViaRouteOrigin(c, conf) {
			helpers.Simple404(c)
			c.Abort()
			return
		}
		if c.Request.Method == http.MethodOptions {
			helpers.SetCORSMethods(c)
			helpers.Simple200OK(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestIDHeader tags a request and every log line written while serving it.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "requestID"

// RequestID keeps the caller's request id or assigns one, and echoes it on
// the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// ForwardPortalSession passes the caller's portal cookies and verification
// token on to shell calls, so the portal answers for that user. The
// middleware's own jwt cookie is not forwarded.
func ForwardPortalSession(conf config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if conf.IsLocal() {
			c.Next()
			return
		}
		cookies := []string{}
		for _, cookie := range c.Request.Cookies() {
			if cookie.Name == conf.JWT.CookieName {
				continue
			}
			cookies = append(cookies, cookie.Name+"="+cookie.Value)
		}
		session := flow.PortalSession{
			Cookie:            strings.Join(cookies, "; "),
			VerificationToken: c.GetHeader(flow.VerificationTokenHeader),
		}
		if session.Cookie != "" || session.VerificationToken != "" {
			c.Request = c.Request.WithContext(flow.WithPortalSession(c.Request.Context(), session))
		}
		c.Next()
	}
}

// GetJWTFromGin allows for quick retrieval of a JWT HttpOnly cookie from
// a Gin context
func GetJWTFromGin(c *gin.Context, conf config.JWT) string {
	for _, cookie := range c.Request.Cookies() {
		if cookie.Name == conf.CookieName {
			return cookie.Value
		}
	}
	return ""
}

// GetUserIDFromGin identifies the caller and will set the gin response if
// there's an error. Without sign-in every request belongs to the local dev
// user.
func (s *Server) GetUserIDFromGin(c *gin.Context) (string, error) {
	if s.Auth == nil {
		if s.Conf.LocalDevUserID != "" {
			return s.Conf.LocalDevUserID, nil
		}
		return AnonymousUser, nil
	}

	jwt := GetJWTFromGin(c, s.Conf.JWT)
	if jwt == "" {
		helpers.Simple403(c)
		return "", ErrUnauthorized
	}

	// check if the user has a valid jwt
	user, err := s.Auth.GetUserByJWT(jwt)
	if err != nil {
		log.Printf("jwt rejected: %v", err.Error())
		helpers.Simple403(c)
		return "", ErrUnauthorized
	}
	return user.Id, nil
}

// LoggedIn allows the frontend to quickly check if the user is logged in
func (s *Server) LoggedIn(c *gin.Context) {
	resp := models.LoggedInResponse{}
	if s.Auth == nil {
		resp.LoggedIn = true
		resp.UserID = s.Conf.LocalDevUserID
		c.JSON(200, resp)
		return
	}

	jwt := GetJWTFromGin(c, s.Conf.JWT)
	if jwt == "" {
		log.Printf("loggedin: empty jwt")
		c.JSON(200, resp)
		return
	}

	// check if the user has a valid jwt
	user, err := s.Auth.GetUserByJWT(jwt)
	if err != nil {
		log.Printf("loggedin: couldn't get user")
		c.JSON(200, resp)
		return
	}

	resp.LoggedIn = true
	resp.UserID = user.Id
	resp.UserEmail = user.Email
	resp.UserFullName = user.FullName

	c.JSON(200, resp)
}

// Login redirects to FusionAuth unless the user already has a valid jwt.
func (s *Server) Login(c *gin.Context) {
	jwt := GetJWTFromGin(c, s.Conf.JWT)
	if jwt != "" {
		user, err := s.Auth.GetUserByJWT(jwt)
		if err == nil && user.Id != "" {
			c.Data(200, "text/plain", []byte("already logged in"))
			return
		}
	}
	// user is not logged in, so redirect
	c.Redirect(http.StatusFound, s.Auth.LoginURL())
}

func (s *Server) OauthCallback(c *gin.Context) {
	err := c.Request.ParseForm()
	if err != nil {
		log.Printf("oauth-callback failed to process form: %v", err.Error())
		helpers.Simple403(c)
		return
	}

	oastate, ok := c.Request.Form["state"]
	if !ok {
		log.Printf("login: no state")
		helpers.Simple403(c)
		return
	}
	oacode, ok := c.Request.Form["code"]
	if !ok {
		log.Printf("login: no code")
		helpers.Simple403(c)
		return
	}

	if len(oastate) != 1 || len(oacode) != 1 {
		log.Printf("login: didn't receive 1 state and 1 code")
		helpers.Simple403(c)
		return
	}

	oauths := models.OauthState{
		Code:     oacode[0],
		State:    oastate[0],
		Verifier: s.Auth.Verifier(),
	}

	user, jwt, err := s.Auth.Exchange(oauths)
	if err != nil {
		log.Printf("err login: %v", err.Error())
		helpers.Simple403(c)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		s.Conf.JWT.CookieName,
		jwt,
		s.Conf.JWT.CookieMaxAgeSeconds,
		"/",
		s.Conf.JWT.CookieDomain,
		s.Conf.JWT.CookieSetSecure,
		true,
	)

	if s.Journal != nil {
		err = s.Journal.Set(c.Request.Context(), user.Id, LastLoginField, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			log.Printf("failed to record login of user %v: %v", user.Id, err.Error())
		}
	}

	c.Redirect(http.StatusFound, s.Conf.FusionAuth.AuthCallbackRedirectURL)
}

// LastLoginField is the user data field stamped on every sign-in.
const LastLoginField = "last_login"
