package sigauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicrypt/record-access-backend/cryptoutils"
	"github.com/medicrypt/record-access-backend/interfaces"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	auth, err := New(Config{})
	require.NoError(t, err)
	return auth
}

func signedChallenge(t *testing.T, kp *cryptoutils.IdentityKeypair, at time.Time) (message, signature string) {
	t.Helper()
	message = BuildChallenge(kp.Identity, at, "nonce-1")
	signature = kp.SignMessage([]byte(message))
	return message, signature
}

func TestAuthenticateSuccess(t *testing.T) {
	auth := newTestAuthenticator(t)
	kp, err := cryptoutils.GenerateIdentityKeypair()
	require.NoError(t, err)

	message, signature := signedChallenge(t, kp, time.Now())
	token, session, err := auth.Authenticate(context.Background(), kp.Identity.String(), message, signature)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, kp.Identity, session.Identity)
	assert.Equal(t, interfaces.RoleOwner, session.Role)

	verified, err := auth.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, kp.Identity, verified.Identity)
	assert.Equal(t, interfaces.RoleOwner, verified.Role)
}

func TestAuthenticateSignatureOverDifferentMessage(t *testing.T) {
	auth := newTestAuthenticator(t)
	kp, err := cryptoutils.GenerateIdentityKeypair()
	require.NoError(t, err)

	// Sign one message, present another.
	other := BuildChallenge(kp.Identity, time.Now(), "other-nonce")
	signature := kp.SignMessage([]byte(other))
	message := BuildChallenge(kp.Identity, time.Now(), "nonce-1")

	_, _, err = auth.Authenticate(context.Background(), kp.Identity.String(), message, signature)
	assert.ErrorIs(t, err, interfaces.ErrInvalidSignature)
}

func TestAuthenticateStaleChallenge(t *testing.T) {
	auth := newTestAuthenticator(t)
	kp, err := cryptoutils.GenerateIdentityKeypair()
	require.NoError(t, err)

	message, signature := signedChallenge(t, kp, time.Now().Add(-10*time.Minute))
	_, _, err = auth.Authenticate(context.Background(), kp.Identity.String(), message, signature)
	assert.ErrorIs(t, err, interfaces.ErrStaleChallenge)
}

func TestAuthenticateChallengeForOtherIdentity(t *testing.T) {
	auth := newTestAuthenticator(t)
	kp, err := cryptoutils.GenerateIdentityKeypair()
	require.NoError(t, err)
	other, err := cryptoutils.GenerateIdentityKeypair()
	require.NoError(t, err)

	// Challenge embeds the other identity's key.
	message := BuildChallenge(other.Identity, time.Now(), "nonce-1")
	signature := kp.SignMessage([]byte(message))

	_, _, err = auth.Authenticate(context.Background(), kp.Identity.String(), message, signature)
	assert.ErrorIs(t, err, interfaces.ErrInvalidSignature)
}

func TestAuthenticateMalformedInputs(t *testing.T) {
	auth := newTestAuthenticator(t)
	kp, err := cryptoutils.GenerateIdentityKeypair()
	require.NoError(t, err)
	message, signature := signedChallenge(t, kp, time.Now())

	_, _, err = auth.Authenticate(context.Background(), "not!base58", message, signature)
	assert.ErrorIs(t, err, interfaces.ErrMalformedInput)

	_, _, err = auth.Authenticate(context.Background(), kp.Identity.String(), message, "not!base58")
	assert.ErrorIs(t, err, interfaces.ErrMalformedInput)

	_, _, err = auth.Authenticate(context.Background(), kp.Identity.String(), "bogus message", signature)
	assert.ErrorIs(t, err, interfaces.ErrMalformedInput)
}

func TestAuthenticateUsesProfileRole(t *testing.T) {
	profiles := NewMemoryProfileStore()
	auth, err := New(Config{Profiles: profiles})
	require.NoError(t, err)

	kp, err := cryptoutils.GenerateIdentityKeypair()
	require.NoError(t, err)
	require.NoError(t, profiles.Upsert(context.Background(), &Profile{
		Identity: kp.Identity,
		Role:     interfaces.RoleAuditor,
	}))

	message, signature := signedChallenge(t, kp, time.Now())
	_, session, err := auth.Authenticate(context.Background(), kp.Identity.String(), message, signature)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RoleAuditor, session.Role)
}

func TestVerifyTokenExpired(t *testing.T) {
	auth := newTestAuthenticator(t)
	kp, err := cryptoutils.GenerateIdentityKeypair()
	require.NoError(t, err)

	message, signature := signedChallenge(t, kp, time.Now())
	token, _, err := auth.Authenticate(context.Background(), kp.Identity.String(), message, signature)
	require.NoError(t, err)

	// Advance the authenticator clock past the token TTL.
	auth.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = auth.VerifyToken(token)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	auth := newTestAuthenticator(t)
	kp, err := cryptoutils.GenerateIdentityKeypair()
	require.NoError(t, err)

	message, signature := signedChallenge(t, kp, time.Now())
	token, _, err := auth.Authenticate(context.Background(), kp.Identity.String(), message, signature)
	require.NoError(t, err)

	var gotSession *Session
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSession, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// Valid bearer token.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, gotSession)
	assert.Equal(t, kp.Identity, gotSession.Identity)

	// Missing header.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Garbage token.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
