package auth

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"portal-middleware/config"
	"portal-middleware/models"

	"github.com/FusionAuth/go-client/pkg/fusionauth"
	cv "github.com/nirasan/go-oauth-pkce-code-verifier"
	"github.com/thanhpk/randstr"
	"golang.org/x/oauth2"
)

// Login holds everything needed to run the FusionAuth authorization-code
// flow with PKCE for the portal.
type Login struct {
	Conf          config.FusionAuth
	Client        *fusionauth.FusionAuthClient
	OauthConfig   *oauth2.Config
	OauthStr      string
	CodeVerif     string
	CodeChallenge string
	AuthCodeURL   string
}

// NewLogin initializes the oauth state, the pkce code verifier and the
// fusionauth client.
func NewLogin(conf config.FusionAuth) (*Login, error) {
	l := &Login{Conf: conf}

	// initialize oauth state
	l.OauthStr = randstr.Hex(16)

	// initialize the code verifier for pkce
	codeVerif, err := cv.CreateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize code verifier: %w", err)
	}
	l.CodeVerif = codeVerif.String()

	// Create code_challenge with S256 method
	l.CodeChallenge = codeVerif.CodeChallengeS256()

	faURL, err := url.Parse(conf.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fusionauth url: %w", err)
	}

	// http client with custom options for usage with fusionauth
	hc := &http.Client{
		Timeout: time.Second * 10,
	}
	l.Client = fusionauth.NewClient(hc, faURL, conf.APIKey)

	l.OauthConfig = &oauth2.Config{
		RedirectURL:  GetOauthRedirectURL(conf),
		ClientID:     conf.OauthClientID,
		ClientSecret: conf.OauthClientSecret,
		Scopes:       []string{"openid"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   fmt.Sprintf("%v/oauth2/authorize", conf.PublicHost),
			TokenURL:  fmt.Sprintf("%v/oauth2/token", conf.PublicHost),
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	l.AuthCodeURL = l.OauthConfig.AuthCodeURL(
		l.OauthStr,
		oauth2.SetAuthURLParam("response_type", "code"),
		oauth2.SetAuthURLParam("code_challenge", l.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	return l, nil
}

// GetOauthRedirectURL is where FusionAuth sends the browser back to after
// sign-in.
func GetOauthRedirectURL(conf config.FusionAuth) string {
	return fmt.Sprintf("%v/auth/oauth-cb", conf.FullDomainURL)
}

// GetUserByJWT resolves the signed-in user from the JWT cookie value.
func (l *Login) GetUserByJWT(jwt string) (fusionauth.User, error) {
	resp, faErrs, err := l.Client.RetrieveUserUsingJWT(jwt)
	if err != nil {
		return fusionauth.User{}, fmt.Errorf("failed to retrieve user by jwt: %w", err)
	}
	if faErrs != nil {
		return fusionauth.User{}, fmt.Errorf("fusionauth rejected jwt: %+v", *faErrs)
	}
	if resp == nil || resp.User.Id == "" {
		return fusionauth.User{}, fmt.Errorf("no user for jwt")
	}
	return resp.User, nil
}

// Exchange trades the authorization code for an access token and returns
// the user it belongs to along with the jwt to store in the cookie.
func (l *Login) Exchange(oauths models.OauthState) (user fusionauth.User, jwt string, err error) {
	if oauths.State != l.OauthStr {
		return user, "", fmt.Errorf("oauth state mismatch")
	}
	token, oauthErr, err := l.Client.ExchangeOAuthCodeForAccessTokenUsingPKCE(
		oauths.Code,
		l.Conf.OauthClientID,
		l.Conf.OauthClientSecret,
		GetOauthRedirectURL(l.Conf),
		oauths.Verifier,
	)
	if err != nil {
		return user, "", fmt.Errorf("failed to exchange oauth code: %w", err)
	}
	if oauthErr != nil {
		return user, "", fmt.Errorf("oauth code exchange rejected: %+v", *oauthErr)
	}

	user, err = l.GetUserByJWT(token.AccessToken)
	if err != nil {
		return user, "", err
	}
	return user, token.AccessToken, nil
}

// LoginURL is the FusionAuth authorize URL carrying the pkce challenge.
func (l *Login) LoginURL() string {
	return l.AuthCodeURL
}

func (l *Login) Verifier() string {
	return l.CodeVerif
}
