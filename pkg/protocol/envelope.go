// Package protocol implements the GREE HVAC wire protocol: the outer
// envelope, the two-algorithm cipher suite guarding the inner payload, and
// the property transformer between the human-readable model and the
// firmware's vendor codes.
package protocol

import "encoding/json"

// Message type tags carried in the "t" field of envelopes and payloads.
const (
	TypeScan   = "scan"
	TypeDev    = "dev"
	TypePack   = "pack"
	TypeBind   = "bind"
	TypeBindOK = "bindok"
	TypeStatus = "status"
	TypeDat    = "dat"
	TypeCmd    = "cmd"
	TypeRes    = "res"
)

// ClientID is the cid value for all client-originated envelopes.
const ClientID = "app"

// DefaultPort is the UDP port GREE devices listen on.
const DefaultPort = 7000

// Envelope is the outer transport-level message wrapping an encrypted inner
// payload. Envelopes are immutable once constructed.
type Envelope struct {
	CID  string `json:"cid"`
	I    int    `json:"i"`
	Type string `json:"t"`
	UID  int    `json:"uid"`
	Pack string `json:"pack,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// NewEnvelope wraps an encrypted payload in a client-originated envelope
// with the given sequence number.
func NewEnvelope(seq int, enc *EncryptedMessage) *Envelope {
	return &Envelope{
		CID:  ClientID,
		I:    seq,
		Type: TypePack,
		UID:  0,
		Pack: enc.Pack,
		Tag:  enc.Tag,
	}
}

// ParseEnvelope decodes a raw inbound datagram into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Payload is the decrypted inner document. A single struct covers every
// payload shape the protocol defines; which fields are populated depends on
// the Type tag.
type Payload struct {
	Type string `json:"t"`

	// dev
	CID   string `json:"cid,omitempty"`
	Name  string `json:"name,omitempty"`
	Brand string `json:"brand,omitempty"`
	Model string `json:"model,omitempty"`
	Ver   string `json:"ver,omitempty"`

	// bind, status
	MAC string `json:"mac,omitempty"`
	UID int    `json:"uid,omitempty"`

	// bindok
	Key string `json:"key,omitempty"`
	R   int    `json:"r,omitempty"`

	// status, dat
	Cols []string      `json:"cols,omitempty"`
	Dat  []interface{} `json:"dat,omitempty"`

	// cmd, res
	Opt []string      `json:"opt,omitempty"`
	P   []interface{} `json:"p,omitempty"`
	Val []interface{} `json:"val,omitempty"`
}

// ParsePayload decodes a decrypted inner document.
func ParsePayload(plaintext []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeviceID returns the device identifier from a dev payload, preferring the
// cid field and falling back to the MAC address.
func (p *Payload) DeviceID() string {
	if p.CID != "" {
		return p.CID
	}
	return p.MAC
}

// Values returns the acknowledged values of a res payload, which the
// firmware reports in either the val or the p field.
func (p *Payload) Values() []interface{} {
	if len(p.Val) > 0 {
		return p.Val
	}
	return p.P
}

// Columns zips parallel cols/values arrays into a vendor-coded map,
// ignoring any trailing entries without a counterpart.
func Columns(cols []string, values []interface{}) map[string]interface{} {
	n := len(cols)
	if len(values) < n {
		n = len(values)
	}
	out := make(map[string]interface{}, n)
	for i := 0; i < n; i++ {
		out[cols[i]] = values[i]
	}
	return out
}
