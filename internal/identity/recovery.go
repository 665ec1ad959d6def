package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"sealbox/go-core/internal/securemem"
)

var (
	ErrRecoveryPhraseRequired = errors.New("recovery phrase is required")
	ErrInvalidRecoveryPhrase  = errors.New("invalid recovery phrase")
)

// RecoveryPhrase encodes the master key for (passphrase, username) as a
// 24-word mnemonic. The phrase alone reproduces the identity, so it must be
// treated with the same care as the passphrase itself. The full derivation
// runs again here; no master key is ever retained for this.
func (d *Deriver) RecoveryPhrase(ctx context.Context, passphrase, username string) (string, error) {
	master, err := d.DeriveMasterKey(ctx, passphrase, username)
	if err != nil {
		return "", err
	}
	defer master.Clear()

	var phrase string
	err = master.WithBytes(func(masterKey []byte) error {
		mnemonic, err := bip39.NewMnemonic(append([]byte(nil), masterKey...))
		if err != nil {
			return err
		}
		phrase = mnemonic
		return nil
	})
	if err != nil {
		return "", err
	}
	return phrase, nil
}

// IdentityFromRecoveryPhrase rebuilds the key pair from a recovery phrase,
// bypassing the passphrase derivation entirely.
func (d *Deriver) IdentityFromRecoveryPhrase(phrase string) (KeyPair, *securemem.Buffer, error) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return KeyPair{}, nil, ErrRecoveryPhraseRequired
	}
	if !bip39.IsMnemonicValid(phrase) {
		return KeyPair{}, nil, ErrInvalidRecoveryPhrase
	}
	entropy, err := bip39.EntropyFromMnemonic(phrase)
	if err != nil {
		return KeyPair{}, nil, ErrInvalidRecoveryPhrase
	}
	if len(entropy) != MasterKeyLength {
		securemem.Wipe(entropy)
		return KeyPair{}, nil, ErrInvalidRecoveryPhrase
	}
	master, err := d.secrets.FromBytes(entropy)
	if err != nil {
		return KeyPair{}, nil, err
	}
	return d.GenerateKeyPair(master)
}
