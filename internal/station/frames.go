package station

// Frame kinds understood on the device transport. Inbound frames carry a
// kind discriminator; call responses additionally carry the correlation id
// the call was issued with.
const (
	KindStatus      = "status"
	KindAck         = "ack"
	KindComplete    = "complete"
	KindStartCharge = "startCharge"
	KindStopCharge  = "stopCharge"
)

// Frame is one message on the device transport, in either direction.
// Fields are populated per kind; everything unused is omitted on the wire.
type Frame struct {
	Kind   string `json:"kind"`
	CallID string `json:"callId,omitempty"`

	// Outbound command fields.
	SocketID    int    `json:"socketId"`
	DeadlineMs  int64  `json:"deadline,omitempty"`
	RequesterID string `json:"requesterId,omitempty"`

	// Inbound ack payload.
	Success *bool `json:"success,omitempty"`

	// Full socket set, pushed with status and completion frames.
	Sockets []SocketSnapshot `json:"sockets,omitempty"`

	// Charge metadata attached to completion notices.
	Charge *ChargeSummary `json:"charge,omitempty"`
}

// SocketSnapshot is the wire form of one socket's state. Devices push the
// full array; the session treats it as authoritative and replaces its own
// socket set wholesale.
type SocketSnapshot struct {
	SocketID     int             `json:"socketId"`
	State        SocketState     `json:"state"`
	MaxPower     float64         `json:"maxPower"`
	CurrentPower float64         `json:"currentPower"`
	Vehicle      *VehicleProfile `json:"vehicle,omitempty"`
	StartedAtMs  int64           `json:"chargeStartTime,omitempty"`
	DeadlineMs   int64           `json:"chargeDeadline,omitempty"`
	RequesterID  string          `json:"requesterId,omitempty"`
}

// ChargeSummary describes one finished charging run, attached by the device
// to completion notices. It is the source of truth for billing on the
// device-reported paths.
type ChargeSummary struct {
	PayerID     string  `json:"payerId"`
	SocketID    int     `json:"socketId"`
	StartedAtMs int64   `json:"startedAt"`
	EndedAtMs   int64   `json:"endedAt"`
	Power       float64 `json:"power"`
}

// AckSuccess reads the ack payload's success flag, defaulting to false when
// the device sent none.
func (f Frame) AckSuccess() bool {
	return f.Success != nil && *f.Success
}
