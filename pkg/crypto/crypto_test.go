package crypto

import (
	"testing"

	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	hash := Hash([]byte("partnership"))
	sig, err := key.Sign(hash[:])
	require.NoError(t, err)
	require.True(t, VerifySignature(hash[:], sig, key.PublicKey()))

	other := Hash([]byte("other"))
	require.False(t, VerifySignature(other[:], sig, key.PublicKey()))
	require.False(t, VerifySignature(hash[:], sig[:10], key.PublicKey()))

	_, err = key.Sign([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestPrivateKeyFromBytes(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	restored, err := PrivateKeyFromBytes(key.key.Serialize())
	require.NoError(t, err)
	require.Equal(t, key.PublicKey(), restored.PublicKey())
	require.Equal(t, key.Address(), restored.Address())

	_, err = PrivateKeyFromBytes([]byte{1})
	require.Error(t, err)
}

func TestAddressFromScript(t *testing.T) {
	addr := types.Address{0x42}
	require.Equal(t, addr, AddressFromScript(types.P2PKHScript(addr)))

	key, err := GenerateKey()
	require.NoError(t, err)
	ms, err := types.MultiSigScript(1, [][]byte{key.PublicKey()})
	require.NoError(t, err)
	require.NotEqual(t, types.Address{}, AddressFromScript(ms))
	require.Equal(t, AddressFromScript(ms), AddressFromScript(ms))
}
