package solana

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// System program ID, owner of native lamport transfers.
const systemProgramID = "11111111111111111111111111111111"

// Index of the Transfer instruction within the system program.
const systemTransferIndex = uint32(2)

// buildTransferTx assembles and signs a legacy single-signer system
// transfer transaction. Returns the raw wire bytes and the signature.
func buildTransferTx(from ed25519.PrivateKey, fromPub, toPub, blockhash string, lamports uint64) ([]byte, string, error) {
	if fromPub == toPub {
		return nil, "", fmt.Errorf("transfer to self: %s", fromPub)
	}

	msg, err := buildTransferMessage(fromPub, toPub, blockhash, lamports)
	if err != nil {
		return nil, "", err
	}

	sig := ed25519.Sign(from, msg)

	var tx bytes.Buffer
	tx.Write(encodeCompactU16(1))
	tx.Write(sig)
	tx.Write(msg)
	return tx.Bytes(), base58.Encode(sig), nil
}

// buildTransferMessage serializes the legacy message for a system transfer:
// header, static account keys, recent blockhash, and the single transfer
// instruction.
func buildTransferMessage(fromPub, toPub, blockhash string, lamports uint64) ([]byte, error) {
	fromKey, err := decodeKey("from", fromPub)
	if err != nil {
		return nil, err
	}
	toKey, err := decodeKey("to", toPub)
	if err != nil {
		return nil, err
	}
	programKey, err := decodeKey("program", systemProgramID)
	if err != nil {
		return nil, err
	}
	hash, err := decodeKey("blockhash", blockhash)
	if err != nil {
		return nil, err
	}

	var msg bytes.Buffer

	// Header: 1 required signature, 0 readonly signed, 1 readonly unsigned
	// (the system program).
	msg.Write([]byte{1, 0, 1})

	// Account keys: fee payer first, then writable destination, then program.
	msg.Write(encodeCompactU16(3))
	msg.Write(fromKey)
	msg.Write(toKey)
	msg.Write(programKey)

	msg.Write(hash)

	// One instruction: program index 2, account indices {0, 1}, transfer data.
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferIndex)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	msg.Write(encodeCompactU16(1))
	msg.WriteByte(2) // program id index
	msg.Write(encodeCompactU16(2))
	msg.Write([]byte{0, 1})
	msg.Write(encodeCompactU16(uint16(len(data))))
	msg.Write(data)

	return msg.Bytes(), nil
}

func decodeKey(label, encoded string) ([]byte, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode %s key: %w", label, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%s key has %d bytes, want 32", label, len(raw))
	}
	return raw, nil
}

// encodeCompactU16 encodes a length in the compact-u16 format used through
// the transaction wire layout: 7 bits per byte, least significant first,
// high bit set while more bytes follow.
func encodeCompactU16(v uint16) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}
