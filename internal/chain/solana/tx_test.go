package solana

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeypair(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return base58.Encode(pub), priv
}

func TestEncodeCompactU16(t *testing.T) {
	tests := []struct {
		in   uint16
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xff, 0x7f}},
		{16384, []byte{0x80, 0x80, 0x01}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, encodeCompactU16(tt.in), "value %d", tt.in)
	}
}

func TestBuildTransferTx_SignatureVerifies(t *testing.T) {
	fromPub, fromPriv := testKeypair(t)
	toPub, _ := testKeypair(t)
	blockhash := base58.Encode(make([]byte, 32))

	raw, sig, err := buildTransferTx(fromPriv, fromPub, toPub, blockhash, 1_000_000)
	require.NoError(t, err)

	// Wire layout: compact-u16 signature count (1), 64-byte signature, message.
	require.Greater(t, len(raw), 65)
	assert.Equal(t, byte(1), raw[0])

	sigBytes := raw[1:65]
	msg := raw[65:]
	assert.Equal(t, base58.Encode(sigBytes), sig)
	assert.True(t, ed25519.Verify(fromPriv.Public().(ed25519.PublicKey), msg, sigBytes))
}

func TestBuildTransferMessage_Layout(t *testing.T) {
	fromPub, _ := testKeypair(t)
	toPub, _ := testKeypair(t)
	blockhash := base58.Encode(make([]byte, 32))

	msg, err := buildTransferMessage(fromPub, toPub, blockhash, 42)
	require.NoError(t, err)

	// Header.
	assert.Equal(t, []byte{1, 0, 1}, msg[0:3])
	// Three account keys.
	assert.Equal(t, byte(3), msg[3])
	fromKey, _ := base58.Decode(fromPub)
	toKey, _ := base58.Decode(toPub)
	programKey, _ := base58.Decode(systemProgramID)
	assert.Equal(t, fromKey, msg[4:36])
	assert.Equal(t, toKey, msg[36:68])
	assert.Equal(t, programKey, msg[68:100])

	// Instruction data is the final 12 bytes: u32 index 2, u64 lamports.
	data := msg[len(msg)-12:]
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(data[0:4]))
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(data[4:12]))
}

func TestBuildTransferTx_RejectsSelfTransfer(t *testing.T) {
	fromPub, fromPriv := testKeypair(t)
	blockhash := base58.Encode(make([]byte, 32))

	_, _, err := buildTransferTx(fromPriv, fromPub, fromPub, blockhash, 1)
	assert.Error(t, err)
}

func TestBuildTransferMessage_RejectsBadKeys(t *testing.T) {
	fromPub, _ := testKeypair(t)
	blockhash := base58.Encode(make([]byte, 32))

	_, err := buildTransferMessage(fromPub, "short", blockhash, 1)
	assert.Error(t, err)

	_, err = buildTransferMessage(fromPub, fromPub, "bad-blockhash-0OIl", 1)
	assert.Error(t, err)
}
