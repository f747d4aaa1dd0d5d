package evm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MessageHeaderLength is the length of an encoded message without its body.
const MessageHeaderLength = 1 + 4 + 4 + 32 + 4 + 32

// ErrMessageTooShort is returned when decoding bytes shorter than a message header.
var ErrMessageTooShort = errors.New("message is shorter than its header")

// Message is a cross-chain message dispatched by the mailbox of its origin domain.
type Message struct {
	Version     uint8
	Nonce       uint32
	Origin      uint32
	Sender      common.Hash
	Destination uint32
	Recipient   common.Hash
	Body        []byte
}

// Encode returns the packed encoding of the message, the format the mailbox contracts hash and
// process:
//
//	version (1) | nonce (4) | origin (4) | sender (32) | destination (4) | recipient (32) | body
func (m Message) Encode() []byte {
	buf := make([]byte, 0, MessageHeaderLength+len(m.Body))
	buf = append(buf, m.Version)
	buf = binary.BigEndian.AppendUint32(buf, m.Nonce)
	buf = binary.BigEndian.AppendUint32(buf, m.Origin)
	buf = append(buf, m.Sender[:]...)
	buf = binary.BigEndian.AppendUint32(buf, m.Destination)
	buf = append(buf, m.Recipient[:]...)

	return append(buf, m.Body...)
}

// ID returns the keccak256 hash of the encoded message.
func (m Message) ID() common.Hash {
	return crypto.Keccak256Hash(m.Encode())
}

// RecipientAddress returns the recipient as an EVM address, i.e. its last 20 bytes.
func (m Message) RecipientAddress() common.Address {
	return common.BytesToAddress(m.Recipient[12:])
}

// DecodeMessage parses bytes produced by Message.Encode.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) < MessageHeaderLength {
		return Message{}, fmt.Errorf("%w: got %d bytes, want at least %d", ErrMessageTooShort, len(data), MessageHeaderLength)
	}

	var m Message
	m.Version = data[0]
	m.Nonce = binary.BigEndian.Uint32(data[1:5])
	m.Origin = binary.BigEndian.Uint32(data[5:9])
	copy(m.Sender[:], data[9:41])
	m.Destination = binary.BigEndian.Uint32(data[41:45])
	copy(m.Recipient[:], data[45:77])
	m.Body = append([]byte{}, data[77:]...)

	return m, nil
}

func (m Message) String() string {
	return fmt.Sprintf("Message(id: %s, nonce: %d, origin: %d, destination: %d)",
		m.ID().Hex(), m.Nonce, m.Origin, m.Destination)
}
