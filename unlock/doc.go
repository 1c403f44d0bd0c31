// Package unlock implements the key-encrypting-key (KEK) providers for the
// three unlock methods: password, passkey, and recovery phrase.
//
// The method set is a closed, security-reviewed list dispatched by explicit
// switches, not an open extension point. Each provider's only job is
// producing a 32-byte KEK from user-supplied input plus stored parameters;
// the unlock protocol itself (fetch escrowed share, decrypt, combine,
// verify, unlock the session) is orchestrated by the keyvault facade.
package unlock
