// Package envelope signs query results into opaque tokens and verifies them back.
//
// A token is an HS256 JWT whose claims carry a schema version, a kind tag,
// the payload, and the issued-at time:
//
//	{"ver":1,"kind":"list","payload":{...},"iat":1705314600}
//
// The version and kind let a consumer check the payload shape independently of
// the signature. Tokens carry no expiry unless the codec is built with a TTL.
package envelope
