package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPairRoundTrip(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.Len(t, pub.Hex(), 64)
	assert.True(t, IsAddress(pub.Hex()))
	assert.Equal(t, pub.Hex(), priv.Public().Hex())

	back, err := PubKeyFromHex(pub.Hex())
	require.NoError(t, err)
	assert.Equal(t, pub.Hex(), back.Hex())

	privBack, err := PrivKeyFromHex(priv.Hex())
	require.NoError(t, err)
	assert.Equal(t, pub.Hex(), privBack.Public().Hex())

	_, err = PubKeyFromHex("abcd")
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)
	sig := Sign(priv, []byte("hello"))
	assert.NoError(t, Verify(pub, []byte("hello"), sig))
	assert.ErrorIs(t, Verify(pub, []byte("tampered"), sig), ErrBadSignature)
	assert.ErrorIs(t, Verify(pub, []byte("hello"), "zz"), ErrBadSignature)
	assert.ErrorIs(t, Verify(pub, []byte("hello"), sig[:10]), ErrBadSignature)
	assert.ErrorIs(t, Verify(PublicKey("short"), []byte("hello"), sig), ErrBadSignature)
}

func TestComponentAddressIsAnAddress(t *testing.T) {
	a := ComponentAddress("tx1", "auction")
	assert.True(t, IsAddress(a))
	assert.NotEqual(t, a, ComponentAddress("tx1", "lottery"))
	assert.Equal(t, a, ComponentAddress("tx1", "auction"))
	assert.False(t, IsAddress("not-hex"))
}
