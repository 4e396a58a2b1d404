package core

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionExpired       = errors.New("session has expired")
	ErrEphemeralKeyExpired  = errors.New("ephemeral key has expired")
	ErrMalformedJWT         = errors.New("malformed identity token")
	ErrJWTExpired           = errors.New("identity token has expired")
	ErrInvalidNonce         = errors.New("invalid nonce")
	ErrAddressMismatch      = errors.New("address does not match identity token and salt")
	ErrProverDeprecated     = errors.New("proving service endpoint has been removed; update the prover URL")
	ErrProofGeneration      = errors.New("proof generation failed")
	ErrIncompleteProof      = errors.New("proving service returned an incomplete proof")
	ErrDryRunFailed         = errors.New("dry run failed")
	ErrNoSigner             = errors.New("no signer available for this session")
	ErrInvalidConfig        = errors.New("invalid config")
	ErrInvalidAddress       = errors.New("invalid sui address")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrStoreOperationFailed = errors.New("store operation failed")
	ErrUnknownActivity      = errors.New("unknown activity signal")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrChallengeExpired     = errors.New("wallet challenge has expired")
	ErrNoSessionScope       = errors.New("request is not bound to a browser session")
)

// ProofError is a proving service failure that is not a deprecation
type ProofError struct {
	StatusCode int
	Body       string
}

func (e *ProofError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrProofGeneration, e.StatusCode, e.Body)
}

func (e *ProofError) Unwrap() error { return ErrProofGeneration }

// StepError reports the signing step a transaction flow failed at
type StepError struct {
	Step TxStage
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("transaction failed at %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
