package types

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/metal-toolbox/vmconsole/internal/model"
)

const (
	Version int32 = 1
)

// PayloadKind identifies the mutation a payload requests.
type PayloadKind string

const (
	PayloadKindDelete    PayloadKind = "delete"
	PayloadKindDisk      PayloadKind = "disk"
	PayloadKindNetwork   PayloadKind = "network"
	PayloadKindBootOrder PayloadKind = "boot-order"
)

// Payload is a dialog specific mutation payload.
type Payload interface {
	Kind() PayloadKind
}

// DeletePayload removes a VM, destroying it first when Destroy is set,
// and removes the storage volumes listed.
type DeletePayload struct {
	Destroy bool     `json:"destroy"`
	Storage []string `json:"storage"`
}

func (p *DeletePayload) Kind() PayloadKind { return PayloadKindDelete }

// DiskPayload carries only the disk attributes that were changed.
type DiskPayload struct {
	Target    string `json:"target"`
	Readonly  *bool  `json:"readonly,omitempty"`
	Shareable *bool  `json:"shareable,omitempty"`
}

func (p *DiskPayload) Kind() PayloadKind { return PayloadKindDisk }

// NetworkPayload carries the complete set of editable network addresses.
type NetworkPayload struct {
	IPv4Address string `json:"ipv4Address"`
	IPv4Netmask string `json:"ipv4Netmask"`
	IPv6Address string `json:"ipv6Address"`
	IPv6Prefix  string `json:"ipv6Prefix"`
}

func (p *NetworkPayload) Kind() PayloadKind { return PayloadKindNetwork }

// BootOrderDevice is a device with its 1 based boot position.
type BootOrderDevice struct {
	Ref   model.DeviceRef `json:"ref"`
	Order int             `json:"order"`
}

// BootOrderPayload lists the devices to boot from, devices not listed lose their boot order.
type BootOrderPayload struct {
	Devices []BootOrderDevice `json:"devices"`
}

func (p *BootOrderPayload) Kind() PayloadKind { return PayloadKindBootOrder }

// MutationRequest is the envelope for a mutation sent over the bus.
type MutationRequest struct {
	Kind       PayloadKind     `json:"kind"`
	Connection string          `json:"connection"`
	ResourceID uuid.UUID       `json:"resourceID"`
	TraceID    string          `json:"traceID,omitempty"`
	SpanID     string          `json:"spanID,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	MsgVersion int32           `json:"msgVersion"`
}

// NewMutationRequest returns a request envelope for the payload.
func NewMutationRequest(ref model.ResourceRef, payload Payload) (*MutationRequest, error) {
	byt, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &MutationRequest{
		Kind:       payload.Kind(),
		Connection: ref.ConnectionName,
		ResourceID: ref.ID,
		Payload:    byt,
	}, nil
}

// Ref returns the address of the resource being mutated.
func (r *MutationRequest) Ref() model.ResourceRef {
	return model.ResourceRef{ConnectionName: r.Connection, ID: r.ResourceID}
}

// DecodePayload returns the typed payload carried by the request.
func (r *MutationRequest) DecodePayload() (Payload, error) {
	var p Payload

	switch r.Kind {
	case PayloadKindDelete:
		p = &DeletePayload{}
	case PayloadKindDisk:
		p = &DiskPayload{}
	case PayloadKindNetwork:
		p = &NetworkPayload{}
	case PayloadKindBootOrder:
		p = &BootOrderPayload{}
	default:
		return nil, &UnknownPayloadError{Kind: r.Kind}
	}

	if err := json.Unmarshal(r.Payload, p); err != nil {
		return nil, err
	}

	return p, nil
}

// MustBytes sets the version field of the MutationRequest so any callers don't have
// to deal with it. It will panic if we cannot serialize to JSON for some reason.
func (r *MutationRequest) MustBytes() []byte {
	r.MsgVersion = Version
	byt, err := json.Marshal(r)
	if err != nil {
		panic("unable to serialize mutation request: " + err.Error())
	}
	return byt
}

// UnknownPayloadError is returned for a request carrying an unsupported payload kind.
type UnknownPayloadError struct {
	Kind PayloadKind
}

func (e *UnknownPayloadError) Error() string {
	return "unknown payload kind: " + string(e.Kind)
}

// FetchRequest asks the backend for the authoritative resource.
type FetchRequest struct {
	Connection string    `json:"connection"`
	ResourceID uuid.UUID `json:"resourceID"`
	MsgVersion int32     `json:"msgVersion"`
}

// MustBytes serializes the request, see MutationRequest.MustBytes.
func (r *FetchRequest) MustBytes() []byte {
	r.MsgVersion = Version
	byt, err := json.Marshal(r)
	if err != nil {
		panic("unable to serialize fetch request: " + err.Error())
	}
	return byt
}

// Reply is the backend response to a mutation or fetch request.
//
// Error holds the human readable rejection reason, NotFound is set when the resource is gone.
type Reply struct {
	Error      string          `json:"error,omitempty"`
	NotFound   bool            `json:"notFound,omitempty"`
	Resource   *model.Resource `json:"resource,omitempty"`
	MsgVersion int32           `json:"msgVersion"`
}

// MustBytes serializes the reply, see MutationRequest.MustBytes.
func (r *Reply) MustBytes() []byte {
	r.MsgVersion = Version
	byt, err := json.Marshal(r)
	if err != nil {
		panic("unable to serialize reply: " + err.Error())
	}
	return byt
}
