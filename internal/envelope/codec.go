package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"agrireg/internal/model"
)

// Version is the payload schema version written into every token.
const Version = 1

// Kind tags what a token's payload is.
type Kind string

const (
	KindList    Kind = "list"
	KindRecord  Kind = "record"
	KindScope   Kind = "scope"
	KindSession Kind = "session"
)

// Envelope is a verified token's content.
type Envelope[T any] struct {
	Version  int
	Kind     Kind
	Payload  T
	IssuedAt time.Time
}

// Clock abstracts time retrieval so signing is deterministic in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type claims struct {
	Version int             `json:"ver"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	jwt.RegisteredClaims
}

// Codec signs and verifies envelopes with one process-wide secret.
// It is safe for concurrent use.
type Codec struct {
	secret Secret
	ttl    time.Duration
	clock  Clock
}

// NewCodec creates a Codec. A zero ttl means tokens never expire.
// A nil clock uses the system time.
func NewCodec(secret Secret, ttl time.Duration, clock Clock) (*Codec, error) {
	if err := secret.validate(); err != nil {
		return nil, err
	}
	if ttl < 0 {
		return nil, fmt.Errorf("envelope ttl must not be negative: %s", ttl)
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Codec{secret: secret, ttl: ttl, clock: clock}, nil
}

// Sign embeds payload and the issued-at time into a signed token.
func (c *Codec) Sign(kind Kind, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding %s payload: %w", kind, err)
	}

	now := c.clock.Now()
	cl := claims{
		Version: Version,
		Kind:    kind,
		Payload: raw,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if c.ttl > 0 {
		cl.ExpiresAt = jwt.NewNumericDate(now.Add(c.ttl))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString([]byte(c.secret))
	if err != nil {
		return "", fmt.Errorf("signing %s envelope: %w", kind, err)
	}
	return token, nil
}

// VerifyRaw checks the token's signature, version and kind, and returns the
// payload undecoded.
func (c *Codec) VerifyRaw(token string, kind Kind) (Envelope[json.RawMessage], error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.clock.Now),
	}
	if c.ttl > 0 {
		opts = append(opts, jwt.WithExpirationRequired())
	}

	var cl claims
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, &cl, func(*jwt.Token) (any, error) {
		return []byte(c.secret), nil
	})
	if err != nil {
		return Envelope[json.RawMessage]{}, invalid(err)
	}

	if cl.Version != Version {
		return Envelope[json.RawMessage]{}, invalid(fmt.Errorf("unsupported version %d", cl.Version))
	}
	if cl.Kind != kind {
		return Envelope[json.RawMessage]{}, invalid(fmt.Errorf("kind %q, want %q", cl.Kind, kind))
	}
	if cl.IssuedAt == nil {
		return Envelope[json.RawMessage]{}, invalid(errors.New("missing issued-at"))
	}

	return Envelope[json.RawMessage]{
		Version:  cl.Version,
		Kind:     cl.Kind,
		Payload:  cl.Payload,
		IssuedAt: cl.IssuedAt.Time,
	}, nil
}

// Verify checks the token and decodes its payload into T.
func Verify[T any](c *Codec, token string, kind Kind) (Envelope[T], error) {
	raw, err := c.VerifyRaw(token, kind)
	if err != nil {
		return Envelope[T]{}, err
	}

	var payload T
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		return Envelope[T]{}, invalid(fmt.Errorf("decoding payload: %w", err))
	}

	return Envelope[T]{
		Version:  raw.Version,
		Kind:     raw.Kind,
		Payload:  payload,
		IssuedAt: raw.IssuedAt,
	}, nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", model.ErrEnvelopeInvalid, err)
}
