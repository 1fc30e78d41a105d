package auth

import "errors"

var (
	// ErrNoCredential: no authorization material on the request.
	ErrNoCredential = errors.New("missing authorization credential")

	// ErrMalformedCredential: the credential is not the internal key and its
	// token header cannot be decoded.
	ErrMalformedCredential = errors.New("authorization credential cannot be decoded")

	// ErrExpiredCredential: the identity token signature checks out but the
	// token is past its expiry.
	ErrExpiredCredential = errors.New("identity token is expired")

	// ErrInvalidCredential: signature or audience mismatch, or the signing
	// key id is unknown to the federated key set.
	ErrInvalidCredential = errors.New("identity token is invalid")

	// ErrKeyNotFound: the key id is absent from the key set even after a
	// refresh.
	ErrKeyNotFound = errors.New("signing key not found")
)
