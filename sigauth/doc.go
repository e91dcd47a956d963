// Package sigauth authenticates wallet identities by public-key signature
// challenge/response and issues short-lived bearer session credentials.
//
// The server tracks no nonces: freshness comes from a timestamp embedded in
// the client-chosen challenge message, bounded to a short window. Session
// credentials are JWTs signed by the service key, invalidated only by
// expiry.
package sigauth
