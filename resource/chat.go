package resource

import (
	"github.com/google/uuid"

	"github.com/opd-ai/keyvault/crypto"
)

// Chat is the ciphertext form of a chat. The message list is one blob
// encrypted under a per-chat key; the per-chat key is wrapped under the
// master key and travels with the blob.
type Chat struct {
	ID               uuid.UUID    `json:"id"`
	EncryptedChatKey []byte       `json:"encrypted_chat_key"`
	ChatKeyNonce     crypto.Nonce `json:"chat_key_nonce"`
	Ciphertext       []byte       `json:"ciphertext"`
	Nonce            crypto.Nonce `json:"nonce"`
}

// ChatPlain is the decrypted form of a chat.
type ChatPlain struct {
	ID   uuid.UUID
	Body []byte
}

// NewChatKey generates a fresh random per-chat key.
func NewChatKey() ([32]byte, error) {
	return crypto.GenerateKey()
}

// EncryptChat creates a new chat: a fresh per-chat key encrypts the body,
// then the key is wrapped under the master key.
func (c *Cipher) EncryptChat(plain ChatPlain) (*Chat, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	master := snap.Key()
	defer crypto.WipeKey(&master)

	chatKey, err := NewChatKey()
	if err != nil {
		return nil, err
	}
	defer crypto.WipeKey(&chatKey)

	body, bodyNonce, err := crypto.Encrypt(plain.Body, chatKey)
	if err != nil {
		return nil, err
	}

	wrapped, keyNonce, err := crypto.Encrypt(chatKey[:], master)
	if err != nil {
		return nil, err
	}

	id := plain.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	return &Chat{
		ID:               id,
		EncryptedChatKey: wrapped,
		ChatKeyNonce:     keyNonce,
		Ciphertext:       body,
		Nonce:            bodyNonce,
	}, nil
}

// ReEncryptChat replaces a chat's body, reusing its existing wrapped key so
// the server-side key record stays stable across message appends.
func (c *Cipher) ReEncryptChat(chat Chat, body []byte) (*Chat, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	master := snap.Key()
	defer crypto.WipeKey(&master)

	chatKey, err := unwrapChatKey(chat, master)
	if err != nil {
		return nil, err
	}
	defer crypto.WipeKey(&chatKey)

	ciphertext, nonce, err := crypto.Encrypt(body, chatKey)
	if err != nil {
		return nil, err
	}

	out := chat
	out.Ciphertext = ciphertext
	out.Nonce = nonce
	return &out, nil
}

// UnwrapChatKey recovers a chat's per-chat key. Callers wipe the result.
func (c *Cipher) UnwrapChatKey(chat Chat) ([32]byte, error) {
	snap, err := c.snapshot()
	if err != nil {
		return [32]byte{}, err
	}
	master := snap.Key()
	defer crypto.WipeKey(&master)

	return unwrapChatKey(chat, master)
}

func unwrapChatKey(chat Chat, master [32]byte) ([32]byte, error) {
	raw, err := crypto.Decrypt(chat.EncryptedChatKey, chat.ChatKeyNonce, master)
	if err != nil {
		return [32]byte{}, err
	}
	if len(raw) != crypto.KeySize {
		crypto.ZeroBytes(raw)
		return [32]byte{}, crypto.ErrAuthenticationFailed
	}

	var chatKey [32]byte
	copy(chatKey[:], raw)
	crypto.ZeroBytes(raw)
	return chatKey, nil
}

// DecryptChat unwraps the per-chat key, then decrypts the body with it.
func (c *Cipher) DecryptChat(chat Chat) (*ChatPlain, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	master := snap.Key()
	defer crypto.WipeKey(&master)

	return decryptChatWithKey(chat, master)
}

func decryptChatWithKey(chat Chat, master [32]byte) (*ChatPlain, error) {
	chatKey, err := unwrapChatKey(chat, master)
	if err != nil {
		return nil, err
	}
	defer crypto.WipeKey(&chatKey)

	body, err := crypto.Decrypt(chat.Ciphertext, chat.Nonce, chatKey)
	if err != nil {
		return nil, err
	}
	return &ChatPlain{ID: chat.ID, Body: body}, nil
}
