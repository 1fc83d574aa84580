package session

import (
	"errors"
	"fmt"

	"agrireg/internal/envelope"
	"agrireg/internal/model"
)

// TokenAuthenticator turns a session-kind envelope into an Actor.
type TokenAuthenticator struct {
	codec *envelope.Codec
}

func NewTokenAuthenticator(codec *envelope.Codec) *TokenAuthenticator {
	return &TokenAuthenticator{codec: codec}
}

// Issue signs actor as a session token. Production tokens come from the
// identity service; this exists for tooling and tests.
func (a *TokenAuthenticator) Issue(actor Actor) (string, error) {
	if err := actor.Validate(); err != nil {
		return "", err
	}
	return a.codec.Sign(envelope.KindSession, actor)
}

// Authenticate verifies token and returns its actor. Any failure is reported
// as ErrSessionInvalid.
func (a *TokenAuthenticator) Authenticate(token string) (Actor, error) {
	if token == "" {
		return Actor{}, fmt.Errorf("missing session token: %w", model.ErrSessionInvalid)
	}
	env, err := envelope.Verify[Actor](a.codec, token, envelope.KindSession)
	if err != nil {
		return Actor{}, errors.Join(model.ErrSessionInvalid, err)
	}
	if err := env.Payload.Validate(); err != nil {
		return Actor{}, err
	}
	return env.Payload, nil
}
