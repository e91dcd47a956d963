package sigauth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/mr-tron/base58"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// DefaultTokenTTL matches the original one-hour session lifetime.
const DefaultTokenTTL = time.Hour

const roleClaim = "role"

// Session is the verified caller context carried by a session credential.
type Session struct {
	Identity interfaces.Identity
	Role     interfaces.Role
}

// Config configures an Authenticator.
type Config struct {
	// SigningKey signs session credentials. Generated if nil.
	SigningKey ed25519.PrivateKey

	// TokenTTL is the session credential lifetime. Defaults to one hour.
	TokenTTL time.Duration

	// ChallengeWindow bounds challenge timestamp staleness.
	// Defaults to five minutes.
	ChallengeWindow time.Duration

	// Profiles supplies per-identity role assignments. Identities without a
	// profile authenticate with RoleOwner.
	Profiles ProfileStore

	Log *slog.Logger
}

// Authenticator verifies wallet signatures over challenge messages and
// issues bearer session credentials. It is stateless with respect to prior
// calls and safe for concurrent use.
type Authenticator struct {
	signingKey ed25519.PrivateKey
	verifyKey  ed25519.PublicKey
	tokenTTL   time.Duration
	window     time.Duration
	profiles   ProfileStore
	log        *slog.Logger

	// now is stubbed in tests.
	now func() time.Time
}

// New creates an Authenticator from the given config.
func New(cfg Config) (*Authenticator, error) {
	signingKey := cfg.SigningKey
	if signingKey == nil {
		var err error
		_, signingKey, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate session signing key: %w", err)
		}
	}

	tokenTTL := cfg.TokenTTL
	if tokenTTL == 0 {
		tokenTTL = DefaultTokenTTL
	}
	window := cfg.ChallengeWindow
	if window == 0 {
		window = DefaultChallengeWindow
	}
	profiles := cfg.Profiles
	if profiles == nil {
		profiles = NewMemoryProfileStore()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Authenticator{
		signingKey: signingKey,
		verifyKey:  signingKey.Public().(ed25519.PublicKey),
		tokenTTL:   tokenTTL,
		window:     window,
		profiles:   profiles,
		log:        log,
		now:        time.Now,
	}, nil
}

// Authenticate verifies that the claimed identity signed the challenge
// message and issues a session credential. The message must embed the same
// public key and a fresh timestamp; signature verification runs over the
// raw message bytes.
func (a *Authenticator) Authenticate(ctx context.Context, walletAddress, message, signature string) (string, *Session, error) {
	identity, err := interfaces.NewIdentityFromString(walletAddress)
	if err != nil {
		return "", nil, err
	}

	sigBytes, err := base58.Decode(signature)
	if err != nil {
		return "", nil, fmt.Errorf("%w: invalid base58 signature: %v", interfaces.ErrMalformedInput, err)
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return "", nil, fmt.Errorf("%w: signature must be %d bytes, got %d", interfaces.ErrMalformedInput, ed25519.SignatureSize, len(sigBytes))
	}

	challenge, err := ParseChallenge(message)
	if err != nil {
		return "", nil, err
	}
	if !challenge.Identity.Equal(identity) {
		return "", nil, fmt.Errorf("%w: challenge signed for a different identity", interfaces.ErrInvalidSignature)
	}
	if err := challenge.CheckFreshness(a.now(), a.window); err != nil {
		return "", nil, err
	}

	if !ed25519.Verify(ed25519.PublicKey(identity.Bytes()), []byte(message), sigBytes) {
		return "", nil, interfaces.ErrInvalidSignature
	}

	role := interfaces.RoleOwner
	if profile, err := a.profiles.Get(ctx, identity); err != nil {
		return "", nil, fmt.Errorf("profile lookup failed: %w", err)
	} else if profile != nil {
		role = profile.Role
	}

	token, err := a.issueToken(identity, role)
	if err != nil {
		return "", nil, err
	}

	a.log.Info("Authenticated identity",
		slog.String("identity", identity.String()),
		slog.String("role", string(role)))

	return token, &Session{Identity: identity, Role: role}, nil
}

// VerifyToken parses and validates a session credential, returning the
// caller session. Expired or tampered tokens fail validation.
func (a *Authenticator) VerifyToken(token string) (*Session, error) {
	parsed, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.EdDSA, a.verifyKey),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(a.now)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidSignature, err)
	}

	identity, err := interfaces.NewIdentityFromString(parsed.Subject())
	if err != nil {
		return nil, err
	}

	roleValue, ok := parsed.Get(roleClaim)
	if !ok {
		return nil, fmt.Errorf("%w: token missing role claim", interfaces.ErrMalformedInput)
	}
	roleStr, ok := roleValue.(string)
	if !ok {
		return nil, fmt.Errorf("%w: token role claim is not a string", interfaces.ErrMalformedInput)
	}
	role, err := interfaces.ParseRole(roleStr)
	if err != nil {
		return nil, err
	}

	return &Session{Identity: identity, Role: role}, nil
}

func (a *Authenticator) issueToken(identity interfaces.Identity, role interfaces.Role) (string, error) {
	now := a.now()
	tok, err := jwt.NewBuilder().
		Subject(identity.String()).
		IssuedAt(now).
		Expiration(now.Add(a.tokenTTL)).
		Claim(roleClaim, string(role)).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build session token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.EdDSA, a.signingKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return string(signed), nil
}

// IsAuthError reports whether err is a deterministic authentication
// rejection rather than an infrastructure failure.
func IsAuthError(err error) bool {
	return errors.Is(err, interfaces.ErrInvalidSignature) ||
		errors.Is(err, interfaces.ErrStaleChallenge) ||
		errors.Is(err, interfaces.ErrMalformedInput)
}
