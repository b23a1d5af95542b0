// Package ageutil handles age-encrypted deploy secrets: profile files that
// are decrypted locally before upload, and encrypted SSH identities.
package ageutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// Environment variables that override the deploy file's age settings.
const (
	EnvIdentity   = "DJDEPLOY_AGE_IDENTITY"
	EnvPassphrase = "DJDEPLOY_AGE_PASSPHRASE"
)

// Suffix marks an encrypted file.
const Suffix = ".age"

// ErrNoKey is returned when a secret needs decrypting but no key is set.
var ErrNoKey = errors.New("no age key configured; set age.identity or age.passphrase in the deploy file, or " +
	EnvIdentity + " / " + EnvPassphrase)

// Key is the credential for age files. A passphrase wins over an identity file.
type Key struct {
	IdentityFile string
	Passphrase   string
}

// Resolve builds a Key from configured values, letting the environment
// override them. It returns nil when nothing is configured.
func Resolve(identityFile, passphrase string, getenv func(string) string) *Key {
	if v := getenv(EnvIdentity); v != "" {
		identityFile = v
	}
	if v := getenv(EnvPassphrase); v != "" {
		passphrase = v
	}
	if identityFile == "" && passphrase == "" {
		return nil
	}
	return &Key{IdentityFile: identityFile, Passphrase: passphrase}
}

// Encrypted reports whether path names an age file.
func Encrypted(path string) bool { return strings.HasSuffix(path, Suffix) }

// PlainName strips the age suffix.
func PlainName(path string) string { return strings.TrimSuffix(path, Suffix) }

// EncryptedName appends the age suffix unless already present.
func EncryptedName(path string) string {
	if Encrypted(path) {
		return path
	}
	return path + Suffix
}

// Encrypt copies plaintext from r to w encrypted.
func (k *Key) Encrypt(w io.Writer, r io.Reader) error {
	kr, err := k.load()
	if err != nil {
		return err
	}
	if len(kr.recipients) == 0 {
		return fmt.Errorf("no X25519 identity in %s to encrypt to", k.IdentityFile)
	}
	aw, err := age.Encrypt(w, kr.recipients...)
	if err != nil {
		return fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := io.Copy(aw, r); err != nil {
		return fmt.Errorf("write ciphertext: %w", err)
	}
	if err := aw.Close(); err != nil {
		return fmt.Errorf("finalise ciphertext: %w", err)
	}
	return nil
}

// Decrypt copies ciphertext from r to w decrypted.
func (k *Key) Decrypt(w io.Writer, r io.Reader) error {
	kr, err := k.load()
	if err != nil {
		return err
	}
	ar, err := age.Decrypt(r, kr.identities...)
	if err != nil {
		return fmt.Errorf("age decrypt: %w", err)
	}
	if _, err := io.Copy(w, ar); err != nil {
		return fmt.Errorf("read plaintext: %w", err)
	}
	return nil
}

// ReadFile returns the decrypted contents of src.
func (k *Key) ReadFile(src string) ([]byte, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var buf bytes.Buffer
	if err := k.Decrypt(&buf, f); err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	return buf.Bytes(), nil
}

// EncryptFile writes src encrypted to dst with mode 0600.
func (k *Key) EncryptFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("read plaintext: %w", err)
	}
	defer in.Close()
	var buf bytes.Buffer
	if err := k.Encrypt(&buf, in); err != nil {
		return err
	}
	return os.WriteFile(dst, buf.Bytes(), 0o600)
}

// DecryptFile writes src decrypted to dst with mode 0600.
func (k *Key) DecryptFile(src, dst string) error {
	data, err := k.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}

// DecryptTemp decrypts src into a private temporary file for upload. The
// caller must invoke cleanup once the file is no longer needed.
func (k *Key) DecryptTemp(src string) (path string, cleanup func(), err error) {
	data, err := k.ReadFile(src)
	if err != nil {
		return "", nil, err
	}
	f, err := os.CreateTemp("", "djdeploy-*")
	if err != nil {
		return "", nil, err
	}
	cleanup = func() { os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}

// keyring is a Key loaded into age's types.
type keyring struct {
	identities []age.Identity
	recipients []age.Recipient
}

// load builds the keyring. A passphrase yields one scrypt pair. An identity
// file encrypts to the public halves of its X25519 identities; other
// identity types can only decrypt.
func (k *Key) load() (keyring, error) {
	if k == nil {
		return keyring{}, ErrNoKey
	}
	if k.Passphrase != "" {
		id, err := age.NewScryptIdentity(k.Passphrase)
		if err != nil {
			return keyring{}, fmt.Errorf("scrypt identity: %w", err)
		}
		r, err := age.NewScryptRecipient(k.Passphrase)
		if err != nil {
			return keyring{}, fmt.Errorf("scrypt recipient: %w", err)
		}
		return keyring{identities: []age.Identity{id}, recipients: []age.Recipient{r}}, nil
	}
	if k.IdentityFile == "" {
		return keyring{}, ErrNoKey
	}

	data, err := os.ReadFile(k.IdentityFile)
	if err != nil {
		return keyring{}, fmt.Errorf("read age identity: %w", err)
	}
	ids, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return keyring{}, fmt.Errorf("parse age identity %s: %w", k.IdentityFile, err)
	}
	kr := keyring{identities: ids}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			kr.recipients = append(kr.recipients, x.Recipient())
		}
	}
	return kr, nil
}
