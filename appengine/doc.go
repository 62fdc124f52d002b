// Package appengine authenticates an HTTP session against an App Engine
// application and keeps the resulting session cookie for later requests.
//
// The handshake trades an identity token for the SACSID cookie:
//
//	GET <endpoint>_ah/login?continue=http://localhost/&auth=<token>
//
// The application answers 302 and sets the cookie. The redirect itself is
// the success signal, so it is never followed.
//
// # Usage
//
//	reg := appengine.NewRegistry()
//	client, err := reg.Create("https://my-app.appspot.com")
//	if err != nil {
//	    return err
//	}
//	if err := client.FetchCookies(ctx, token); err != nil {
//	    return err // matches appengine.ErrCookie
//	}
//	if !client.Ready() {
//	    return appengine.NewCookieError(appengine.KindCookieNotFound, client.Endpoint(), nil)
//	}
//	resp, err := reg.Current().Get(ctx, "api/profile")
//
// Identity tokens are single use. Package flow drives a TokenProvider through
// fetch, invalidate and refetch before calling FetchCookies.
//
// # Errors
//
// Every error returned by Client is an *Error carrying an Op and a Kind.
// Use errors.Is with ErrCookie or ErrRequest to tell the handshake from the
// request primitives, and KindOf to branch on the failure.
package appengine
