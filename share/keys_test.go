package share

import (
	"testing"

	assert "github.com/stretchr/testify/require"
)

func TestDeriveKeysDeterministic(t *testing.T) {
	k1 := DeriveKeys("access-code")
	k2 := DeriveKeys("access-code")
	assert.Equal(t, k1, k2, "Expect derivation to be deterministic")

	other := DeriveKeys("another-code")
	assert.NotEqual(t, k1.ShareID, other.ShareID, "Expect distinct codes to derive distinct ids")
}

func TestDeriveKeysDistinctLevels(t *testing.T) {
	k := DeriveKeys("access-code")
	assert.NotEqual(t, k.PSKReadWrite[:], k.PSKReadOnly[:], "Expect distinct keys per access level")
	assert.NotEqual(t, k.PSKReadOnly[:], k.PSKUntrusted[:], "Expect distinct keys per access level")
}

func TestGenerateAccessCode(t *testing.T) {
	c1, err := GenerateAccessCode()
	assert.NoError(t, err, "Not expecting generation to fail")
	assert.NotEmpty(t, c1, "Expect a code")

	c2, err := GenerateAccessCode()
	assert.NoError(t, err, "Not expecting generation to fail")
	assert.NotEqual(t, c1, c2, "Expect codes to be random")
}

func TestSetAccessCode(t *testing.T) {
	s, err := NewShare(t.TempDir(), "")
	assert.NoError(t, err, "Not expecting share creation to fail")
	defer s.Close()

	assert.Nil(t, s.Keys(), "Not expecting keys before an access code is set")
	s.SetAccessCode("access-code")
	assert.NotNil(t, s.Keys(), "Expect keys after an access code is set")
	assert.NotEmpty(t, s.PeerID(), "Expect a peer id")
}
