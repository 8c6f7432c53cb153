package carbonara

import (
	"math"

	"github.com/InsightCenterNoodles/Carbonara/protocol"
	"github.com/google/uuid"
)

// Application message-type numbers. The create/update/delete triples
// belong to the component categories; 0, 1 and 35 are used by the
// pipeline itself.
const (
	MsgIntroduce uint32 = 0
	MsgInvoke    uint32 = 1

	MsgEntityCreate uint32 = 4
	MsgEntityUpdate uint32 = 5
	MsgEntityDelete uint32 = 6

	MsgBufferCreate uint32 = 10
	MsgBufferDelete uint32 = 11

	MsgBufferViewCreate uint32 = 12
	MsgBufferViewDelete uint32 = 13

	MsgMaterialCreate uint32 = 14
	MsgMaterialUpdate uint32 = 15
	MsgMaterialDelete uint32 = 16

	MsgImageCreate uint32 = 17
	MsgImageDelete uint32 = 18

	MsgTextureCreate uint32 = 19
	MsgTextureDelete uint32 = 20

	MsgGeometryCreate uint32 = 26
	MsgGeometryDelete uint32 = 27

	// MsgReady trails the snapshot dump sent to a newly introduced
	// client; its payload is the boolean true.
	MsgReady uint32 = 35
)

// noUpdate marks categories whose components are immutable after create.
const noUpdate uint32 = math.MaxUint32

// The key the store injects into every component payload.
const idKey = "id"

// introduceRequest is the payload of message type 0.
type introduceRequest struct {
	ClientName string `cbor:"client_name"`
}

// deletePayload carries only the identity of the destroyed component.
type deletePayload struct {
	ID ObjectID `cbor:"id"`
}

// Envelope is one unit of outbound work: a batch to serialize exactly
// once, an optional single recipient, and whether delivery promotes that
// recipient from Pending to Active. A nil Target means broadcast to all
// Active clients.
type Envelope struct {
	Batch   protocol.Batch
	Target  *uuid.UUID
	Promote bool
}
