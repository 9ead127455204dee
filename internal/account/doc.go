// Package account holds signing identities and the matching verifier.
//
// Signatures are compact EdDSA JWS tokens whose claims carry the typed
// payload, the signer's public key and the signer's address as subject.
package account
