package session

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"agrireg/internal/envelope"
	"agrireg/internal/model"
)

func TestContextProvider(t *testing.T) {
	actor := Actor{UUID: "a-1", Name: "Dana", Role: RoleStaff}

	tests := []struct {
		name    string
		ctx     context.Context
		wantErr bool
	}{
		{"present", WithActor(context.Background(), actor), false},
		{"missing", context.Background(), true},
		{"no uuid", WithActor(context.Background(), Actor{Role: RoleAdmin}), true},
		{"bad role", WithActor(context.Background(), Actor{UUID: "a-1", Role: "root"}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ContextProvider{}.Actor(tt.ctx)
			if tt.wantErr {
				if !errors.Is(err, model.ErrSessionInvalid) {
					t.Errorf("Actor() error = %v, want ErrSessionInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Actor() error = %v", err)
			}
			if got.UUID != actor.UUID || got.Role != actor.Role {
				t.Errorf("Actor() = %+v, want %+v", got, actor)
			}
		})
	}
}

func TestActor_Snapshot(t *testing.T) {
	snap := Actor{UUID: "a-1", Name: "Dana", Role: RoleOwner, CompanyUUIDs: []string{"c-1"}}.Snapshot()
	want := model.ActorSnapshot{UUID: "a-1", Name: "Dana", Role: "owner"}
	if snap != want {
		t.Errorf("Snapshot() = %+v, want %+v", snap, want)
	}
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newCodec(t *testing.T, fill byte) *envelope.Codec {
	t.Helper()
	codec, err := envelope.NewCodec(envelope.Secret(bytes.Repeat([]byte{fill}, 32)), 0, fixedClock{time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	return codec
}

func TestTokenAuthenticator(t *testing.T) {
	auth := NewTokenAuthenticator(newCodec(t, 0x11))
	actor := Actor{UUID: "a-1", Name: "Dana", Role: RoleOwner, CompanyUUIDs: []string{"c-1", "c-2"}}

	token, err := auth.Issue(actor)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, err := auth.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got.UUID != actor.UUID || len(got.CompanyUUIDs) != 2 || got.CompanyUUIDs[1] != "c-2" {
		t.Errorf("Authenticate() = %+v, want %+v", got, actor)
	}

	t.Run("empty", func(t *testing.T) {
		if _, err := auth.Authenticate(""); !errors.Is(err, model.ErrSessionInvalid) {
			t.Errorf("error = %v, want ErrSessionInvalid", err)
		}
	})

	t.Run("other secret", func(t *testing.T) {
		other := NewTokenAuthenticator(newCodec(t, 0x22))
		_, err := other.Authenticate(token)
		if !errors.Is(err, model.ErrSessionInvalid) || !errors.Is(err, model.ErrEnvelopeInvalid) {
			t.Errorf("error = %v, want ErrSessionInvalid wrapping ErrEnvelopeInvalid", err)
		}
	})

	t.Run("wrong kind", func(t *testing.T) {
		codec := newCodec(t, 0x11)
		scope, err := codec.Sign(envelope.KindScope, actor)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := auth.Authenticate(scope); !errors.Is(err, model.ErrSessionInvalid) {
			t.Errorf("error = %v, want ErrSessionInvalid", err)
		}
	})

	t.Run("invalid actor rejected at issue", func(t *testing.T) {
		if _, err := auth.Issue(Actor{UUID: "x"}); !errors.Is(err, model.ErrSessionInvalid) {
			t.Errorf("error = %v, want ErrSessionInvalid", err)
		}
	})
}
