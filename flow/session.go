package flow

import "context"

// VerificationTokenHeader is the portal's anti-forgery header.
const VerificationTokenHeader = "__RequestVerificationToken"

// PortalSession is the browser identity of the portal user a request is
// served for. Shell calls made under it are made as that user.
type PortalSession struct {
	Cookie            string
	VerificationToken string
}

type sessionKey struct{}

func WithPortalSession(ctx context.Context, s PortalSession) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func PortalSessionFrom(ctx context.Context) (PortalSession, bool) {
	s, ok := ctx.Value(sessionKey{}).(PortalSession)
	return s, ok
}
