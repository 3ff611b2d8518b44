package msgs

import (
	"errors"
	"fmt"

	"github.com/golang/protobuf/proto"
)

// TypeID masks
const (
	TypeIDMaskKind  uint32 = 0x80000000
	TypeIDMaskGroup uint32 = 0x7fff0000
	TypeIDMaskID    uint32 = 0x0000ffff
	TypeIDMaskReply uint32 = 0x00008000
)

// Message Kinds
const (
	TypeIDKindCommand uint32 = 0x00000000
	TypeIDKindEvent   uint32 = 0x80000000
)

// Message can be serialized over the wire inside an Envelope.
type Message interface {
	NewMessage() Message
	TypeID() uint32
	Serializable() proto.Message
}

// ErrUnknownType indicates unknown type id.
type ErrUnknownType struct {
	TypeID uint32
}

// Error implements error.
func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown type: %x", e.TypeID)
}

// ErrNotSerializable indicates the message is not serializable.
var ErrNotSerializable = errors.New("not serializable message")

// MessageTypes are predefined mapping of type ID to messages.
var MessageTypes = map[uint32]Message{
	MeasurementEventTypeID: (*MeasurementEvent)(nil),
	StatisticsEventTypeID:  (*StatisticsEvent)(nil),
	CommandRequestTypeID:   (*CommandRequest)(nil),
}

// Envelope wraps an encoded message with its type ID.
type Envelope struct {
	TypeId  uint32 `protobuf:"varint,1,opt,name=type_id,json=typeId,proto3" json:"type_id,omitempty"`
	Message []byte `protobuf:"bytes,2,opt,name=message,proto3" json:"message,omitempty"`
}

// ProtoMessage implements proto.Message.
func (e *Envelope) ProtoMessage() {}

// Reset implements proto.Message.
func (e *Envelope) Reset() { *e = Envelope{} }

// String implements proto.Message.
func (e *Envelope) String() string { return proto.CompactTextString(e) }

// EnvelopeFrom wraps a message.
func EnvelopeFrom(msg Message) (*Envelope, error) {
	if msg == nil {
		return nil, ErrNotSerializable
	}
	data, err := proto.Marshal(msg.Serializable())
	if err != nil {
		return nil, err
	}
	return &Envelope{TypeId: msg.TypeID(), Message: data}, nil
}

// Decode decodes the envelope into actual message.
func (e Envelope) Decode() (Message, error) {
	msgType, ok := MessageTypes[e.TypeId]
	if !ok {
		return nil, &ErrUnknownType{TypeID: e.TypeId}
	}
	msg := msgType.NewMessage()
	if err := proto.Unmarshal(e.Message, msg.Serializable()); err != nil {
		return nil, err
	}
	return msg, nil
}

// Encode encodes the Envelope to bytes.
func (e Envelope) Encode() ([]byte, error) {
	return proto.Marshal(&e)
}

// Kind gets message kind from type ID.
func (e Envelope) Kind() uint32 {
	return e.TypeId & TypeIDMaskKind
}

// IsCommand determines if the message is a command.
func (e Envelope) IsCommand() bool {
	return e.Kind() == TypeIDKindCommand
}

// IsEvent determines if the message is an event.
func (e Envelope) IsEvent() bool {
	return e.Kind() == TypeIDKindEvent
}

// DecodeEnvelope decodes bytes into Envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := proto.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Encode wraps and encodes a message.
func Encode(msg Message) ([]byte, error) {
	e, err := EnvelopeFrom(msg)
	if err != nil {
		return nil, err
	}
	return e.Encode()
}

// Decode decodes an encoded Envelope into its message.
func Decode(data []byte) (Message, error) {
	e, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	return e.Decode()
}
