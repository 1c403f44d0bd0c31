// Package keyvault implements an end-to-end-encrypted key management core:
// master key generation, Shamir splitting and escrow, interchangeable
// unlock methods (password, passkey, recovery phrase), a secure in-memory
// session with idle timeout, and per-resource encryption.
//
// Basic usage:
//
//	opts := keyvault.NewOptions()
//	vault, err := keyvault.New(opts, service, tokens, store, authenticator)
//	if err != nil {
//	    // handle error
//	}
//
//	exists, err := vault.IsSetUp(ctx)
//	if !exists {
//	    mnemonic, err := vault.Setup(ctx)
//	    // display mnemonic to the user exactly once
//	} else if !vault.TryRestore(ctx) {
//	    err = vault.UnlockWithPassword(ctx, password)
//	}
//
//	note, err := vault.Resources().EncryptNote(resource.NotePlain{
//	    Title:   "title",
//	    Content: "content",
//	})
//
// The master key never leaves the process in plaintext. Escrow stores it
// only in split or KEK-encrypted form; the session zeroes it on lock.
package keyvault
