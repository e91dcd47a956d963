package sigauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// Challenge messages are plain text signed by the wallet:
//
//	medicrypt-auth v1
//	<base58 public key>
//	<RFC3339 timestamp>
//	<client nonce>
//
// The embedded public key must match the claimed identity and the timestamp
// must fall within the server's freshness window. Replay of an old signed
// message is possible inside that window; bounding it is the whole replay
// defense in this design.
const challengeHeader = "medicrypt-auth v1"

// DefaultChallengeWindow bounds how far a challenge timestamp may deviate
// from server time in either direction.
const DefaultChallengeWindow = 5 * time.Minute

// Challenge is a parsed authentication challenge message.
type Challenge struct {
	Identity  interfaces.Identity
	Timestamp time.Time
	Nonce     string
}

// BuildChallenge formats a challenge message for signing. Clients call this;
// the server only parses.
func BuildChallenge(identity interfaces.Identity, now time.Time, nonce string) string {
	return strings.Join([]string{
		challengeHeader,
		identity.String(),
		now.UTC().Format(time.RFC3339),
		nonce,
	}, "\n")
}

// ParseChallenge validates the structure of a challenge message.
func ParseChallenge(message string) (*Challenge, error) {
	lines := strings.Split(message, "\n")
	if len(lines) != 4 {
		return nil, fmt.Errorf("%w: challenge must have 4 lines, got %d", interfaces.ErrMalformedInput, len(lines))
	}
	if lines[0] != challengeHeader {
		return nil, fmt.Errorf("%w: unexpected challenge header", interfaces.ErrMalformedInput)
	}

	identity, err := interfaces.NewIdentityFromString(lines[1])
	if err != nil {
		return nil, err
	}

	ts, err := time.Parse(time.RFC3339, lines[2])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid challenge timestamp: %v", interfaces.ErrMalformedInput, err)
	}

	return &Challenge{
		Identity:  identity,
		Timestamp: ts,
		Nonce:     lines[3],
	}, nil
}

// CheckFreshness enforces the challenge window against server time.
func (c *Challenge) CheckFreshness(now time.Time, window time.Duration) error {
	age := now.Sub(c.Timestamp)
	if age > window || age < -window {
		return fmt.Errorf("%w: challenge timestamp %s outside %s window", interfaces.ErrStaleChallenge, c.Timestamp.Format(time.RFC3339), window)
	}
	return nil
}
