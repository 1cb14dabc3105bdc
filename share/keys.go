package share

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// Key material of a share. The share id is public; the pre-shared keys
// gate the three access levels a peer can be granted.
type Keys struct {
	ShareID      [32]byte
	PSKReadWrite [16]byte
	PSKReadOnly  [16]byte
	PSKUntrusted [16]byte
}

const pbkdf2Rounds = 4096

// DeriveKeys derives the share id and the per-access-level pre-shared keys
// from an access code. Derivation is deterministic so every holder of the
// code computes the same material.
func DeriveKeys(accessCode string) *Keys {
	k := &Keys{}
	secret := []byte(accessCode)
	copy(k.ShareID[:], pbkdf2.Key(secret, []byte("clearskies share id"), pbkdf2Rounds, len(k.ShareID), sha256.New))
	copy(k.PSKReadWrite[:], pbkdf2.Key(secret, []byte("clearskies psk rw"), pbkdf2Rounds, len(k.PSKReadWrite), sha256.New))
	copy(k.PSKReadOnly[:], pbkdf2.Key(secret, []byte("clearskies psk ro"), pbkdf2Rounds, len(k.PSKReadOnly), sha256.New))
	copy(k.PSKUntrusted[:], pbkdf2.Key(secret, []byte("clearskies psk ut"), pbkdf2Rounds, len(k.PSKUntrusted), sha256.New))
	return k
}

// GenerateAccessCode delivers a fresh random access code suitable for
// DeriveKeys, in unpadded base32.
func GenerateAccessCode() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(err, "generate access code")
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}
