package resource

import (
	"github.com/google/uuid"

	"github.com/opd-ai/keyvault/crypto"
	"github.com/opd-ai/keyvault/session"
)

// Note is the ciphertext form of a note as exchanged with the server.
// Title and content are encrypted independently, each with its own nonce.
type Note struct {
	ID               uuid.UUID    `json:"id"`
	EncryptedTitle   []byte       `json:"encrypted_title"`
	TitleNonce       crypto.Nonce `json:"title_nonce"`
	EncryptedContent []byte       `json:"encrypted_content"`
	ContentNonce     crypto.Nonce `json:"content_nonce"`
}

// NotePlain is the decrypted form of a note.
type NotePlain struct {
	ID      uuid.UUID
	Title   string
	Content string
}

// Prompt is the ciphertext form of a saved prompt.
type Prompt struct {
	ID               uuid.UUID    `json:"id"`
	EncryptedName    []byte       `json:"encrypted_name"`
	NameNonce        crypto.Nonce `json:"name_nonce"`
	EncryptedContent []byte       `json:"encrypted_content"`
	ContentNonce     crypto.Nonce `json:"content_nonce"`
}

// PromptPlain is the decrypted form of a prompt.
type PromptPlain struct {
	ID      uuid.UUID
	Name    string
	Content string
}

// Credential is the ciphertext form of a stored credential.
type Credential struct {
	ID              uuid.UUID    `json:"id"`
	EncryptedName   []byte       `json:"encrypted_name"`
	NameNonce       crypto.Nonce `json:"name_nonce"`
	EncryptedSecret []byte       `json:"encrypted_secret"`
	SecretNonce     crypto.Nonce `json:"secret_nonce"`
}

// CredentialPlain is the decrypted form of a credential.
type CredentialPlain struct {
	ID     uuid.UUID
	Name   string
	Secret string
}

// Cipher performs resource encryption against a session. It holds no key
// material itself; each operation captures the master key for its own
// duration.
type Cipher struct {
	sess *session.Session
}

// NewCipher binds a cipher to a session.
func NewCipher(sess *session.Session) *Cipher {
	return &Cipher{sess: sess}
}

// snapshot captures the master key or fails with session.ErrSessionLocked.
func (c *Cipher) snapshot() (session.Snapshot, error) {
	return c.sess.Snapshot()
}

// encryptField encrypts one confidential field under the master key with a
// fresh nonce.
func encryptField(value string, key [32]byte) ([]byte, crypto.Nonce, error) {
	return crypto.Encrypt([]byte(value), key)
}

// decryptField decrypts one field. The plaintext copy is wiped after the
// string conversion.
func decryptField(ciphertext []byte, nonce crypto.Nonce, key [32]byte) (string, error) {
	plaintext, err := crypto.Decrypt(ciphertext, nonce, key)
	if err != nil {
		return "", err
	}
	out := string(plaintext)
	crypto.ZeroBytes(plaintext)
	return out, nil
}

// EncryptNote encrypts a note's title and content.
func (c *Cipher) EncryptNote(plain NotePlain) (*Note, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	key := snap.Key()
	defer crypto.WipeKey(&key)

	title, titleNonce, err := encryptField(plain.Title, key)
	if err != nil {
		return nil, err
	}
	content, contentNonce, err := encryptField(plain.Content, key)
	if err != nil {
		return nil, err
	}

	id := plain.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	return &Note{
		ID:               id,
		EncryptedTitle:   title,
		TitleNonce:       titleNonce,
		EncryptedContent: content,
		ContentNonce:     contentNonce,
	}, nil
}

// DecryptNote decrypts both fields of a note.
func (c *Cipher) DecryptNote(note Note) (*NotePlain, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	key := snap.Key()
	defer crypto.WipeKey(&key)

	return decryptNoteWithKey(note, key)
}

func decryptNoteWithKey(note Note, key [32]byte) (*NotePlain, error) {
	title, err := decryptField(note.EncryptedTitle, note.TitleNonce, key)
	if err != nil {
		return nil, err
	}
	content, err := decryptField(note.EncryptedContent, note.ContentNonce, key)
	if err != nil {
		return nil, err
	}
	return &NotePlain{ID: note.ID, Title: title, Content: content}, nil
}

// EncryptPrompt encrypts a prompt's name and content.
func (c *Cipher) EncryptPrompt(plain PromptPlain) (*Prompt, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	key := snap.Key()
	defer crypto.WipeKey(&key)

	name, nameNonce, err := encryptField(plain.Name, key)
	if err != nil {
		return nil, err
	}
	content, contentNonce, err := encryptField(plain.Content, key)
	if err != nil {
		return nil, err
	}

	id := plain.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	return &Prompt{
		ID:               id,
		EncryptedName:    name,
		NameNonce:        nameNonce,
		EncryptedContent: content,
		ContentNonce:     contentNonce,
	}, nil
}

// DecryptPrompt decrypts both fields of a prompt.
func (c *Cipher) DecryptPrompt(prompt Prompt) (*PromptPlain, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	key := snap.Key()
	defer crypto.WipeKey(&key)

	name, err := decryptField(prompt.EncryptedName, prompt.NameNonce, key)
	if err != nil {
		return nil, err
	}
	content, err := decryptField(prompt.EncryptedContent, prompt.ContentNonce, key)
	if err != nil {
		return nil, err
	}
	return &PromptPlain{ID: prompt.ID, Name: name, Content: content}, nil
}

// EncryptCredential encrypts a credential's name and secret.
func (c *Cipher) EncryptCredential(plain CredentialPlain) (*Credential, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	key := snap.Key()
	defer crypto.WipeKey(&key)

	name, nameNonce, err := encryptField(plain.Name, key)
	if err != nil {
		return nil, err
	}
	secret, secretNonce, err := encryptField(plain.Secret, key)
	if err != nil {
		return nil, err
	}

	id := plain.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	return &Credential{
		ID:              id,
		EncryptedName:   name,
		NameNonce:       nameNonce,
		EncryptedSecret: secret,
		SecretNonce:     secretNonce,
	}, nil
}

// DecryptCredential decrypts both fields of a credential.
func (c *Cipher) DecryptCredential(cred Credential) (*CredentialPlain, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	key := snap.Key()
	defer crypto.WipeKey(&key)

	name, err := decryptField(cred.EncryptedName, cred.NameNonce, key)
	if err != nil {
		return nil, err
	}
	secret, err := decryptField(cred.EncryptedSecret, cred.SecretNonce, key)
	if err != nil {
		return nil, err
	}
	return &CredentialPlain{ID: cred.ID, Name: name, Secret: secret}, nil
}
