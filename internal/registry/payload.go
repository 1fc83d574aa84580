package registry

import (
	"fmt"

	"agrireg/internal/envelope"
	"agrireg/internal/model"
	"agrireg/internal/page"
	"agrireg/internal/resolve"
)

// ListResult is the payload of a list token.
type ListResult struct {
	Entity   string        `json:"entity"`
	Rows     []resolve.Row `json:"rows"`
	Page     page.Meta     `json:"page"`
	Warnings []string      `json:"warnings,omitempty"`
}

// RecordResult is the payload of a record token, issued by Get and by every
// mutation.
type RecordResult struct {
	Entity string      `json:"entity"`
	Row    resolve.Row `json:"row"`
}

// ScopePayload is the payload of a scope token: the kind of entity a list is
// narrowed to and that entity's uuid.
type ScopePayload struct {
	Kind string `json:"kind"`
	UUID string `json:"uuid"`
}

// DecodeList verifies a list token and returns its result.
func DecodeList(codec *envelope.Codec, token string) (ListResult, error) {
	env, err := envelope.Verify[ListResult](codec, token, envelope.KindList)
	if err != nil {
		return ListResult{}, err
	}
	return env.Payload, nil
}

// DecodeRecord verifies a record token and returns its result.
func DecodeRecord(codec *envelope.Codec, token string) (RecordResult, error) {
	env, err := envelope.Verify[RecordResult](codec, token, envelope.KindRecord)
	if err != nil {
		return RecordResult{}, err
	}
	return env.Payload, nil
}

// DecodeScope verifies a scope token.
func DecodeScope(codec *envelope.Codec, token string) (ScopePayload, error) {
	env, err := envelope.Verify[ScopePayload](codec, token, envelope.KindScope)
	if err != nil {
		return ScopePayload{}, err
	}
	if env.Payload.Kind == "" || env.Payload.UUID == "" {
		return ScopePayload{}, fmt.Errorf("%w: scope token without kind or uuid", model.ErrEnvelopeInvalid)
	}
	return env.Payload, nil
}
