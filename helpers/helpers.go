package helpers

import "github.com/gin-gonic/gin"

const (
	NotFound                  = "not found"
	Unauthorized              = "unauthorized"
	OK                        = "OK"
	AccessControlAllowMethods = "Access-Control-Allow-Methods"
	AccessControlAllowHeaders = "Access-Control-Allow-Headers"
	CORSMethodsOptGetPost     = "OPTIONS, GET, POST"
	CORSAllowedHeaders        = "Content-Type, X-Request-ID, __RequestVerificationToken"
)

// Simple404 sets a quick and easy 404 gin response
func Simple404(c *gin.Context) {
	c.Data(404, "text/plain", []byte(NotFound))
}

// Simple403 sets a quick and easy 403 gin response
func Simple403(c *gin.Context) {
	c.Data(403, "text/plain", []byte(Unauthorized))
}

// Simple200OK sets a quick and easy gin response, typically used for Options
// preflight CORS requests
func Simple200OK(c *gin.Context) {
	c.Data(200, "text/plain", []byte(OK))
}

// SetCORSMethods sets the methods and headers allowed for CORS
func SetCORSMethods(c *gin.Context) {
	c.Header(AccessControlAllowMethods, CORSMethodsOptGetPost)
	c.Header(AccessControlAllowHeaders, CORSAllowedHeaders)
}

// JSONError sets a json {"error": msg} response with the given status
func JSONError(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}
