package auth

import (
	"context"
	"log"
	"net/url"

	"portal-middleware/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource is the piece of oauth2 the token server needs. Tests swap it
// for a static source.
type TokenSource interface {
	Token() (*oauth2.Token, error)
}

// TokenServer answers the local dev UI's get-token calls with an access token
// acquired through the client-credentials grant, so the client secret never
// leaves the server.
type TokenServer struct {
	Source TokenSource
}

// NewTokenServer builds the client-credentials source from config.
func NewTokenServer(ctx context.Context, conf config.TokenServer) *TokenServer {
	cc := &clientcredentials.Config{
		ClientID:     conf.ClientID,
		ClientSecret: conf.ClientSecret,
		TokenURL:     conf.TokenURL,
		EndpointParams: url.Values{
			"resource": []string{conf.Resource},
		},
	}
	return &TokenServer{Source: cc.TokenSource(ctx)}
}

// Handle is the gin handler for POST /api/get-token.
func (ts *TokenServer) Handle(c *gin.Context) {
	log.Printf("received request for access token")
	tok, err := ts.Source.Token()
	if err != nil {
		log.Printf("error in get-token: %v", err.Error())
		c.JSON(500, gin.H{"error": "Failed to acquire access token"})
		return
	}
	c.JSON(200, gin.H{"accessToken": tok.AccessToken})
}
