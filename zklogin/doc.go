// Package zklogin implements the pure derivations of the Sui zkLogin protocol:
// address seeds, addresses, nonces, ephemeral keys and the composite signature
// encoding. It performs no I/O.
//
// Proof generation itself is delegated to an external proving service.
package zklogin
