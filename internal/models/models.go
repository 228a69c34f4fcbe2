package models

import "time"

type Device struct {
	DeviceID   string
	Name       string
	SecretHash string
	IsActive   bool
	Vendor     string
	Model      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastSeenAt *time.Time
}

// SocketDef is the directory's expected definition of one physical socket
// on a device. A connecting device must advertise exactly these sockets.
type SocketDef struct {
	DeviceID        string
	SocketID        int
	ConnectorRating float64
	SpeedRating     float64
}

type Payer struct {
	PayerID    string
	NotifyURL  string
	Credential string
	CreatedAt  time.Time
}

type Tariff struct {
	TariffID  string
	DeviceID  string
	UnitPrice float64
	Currency  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChargeRecord is one completed, billed charging run.
type ChargeRecord struct {
	ChargeID   string
	DeviceID   string
	SocketID   int
	PayerID    string
	StartedAt  time.Time
	EndedAt    time.Time
	Power      float64
	Amount     float64
	Currency   string
	NotifiedAt *time.Time
	CreatedAt  time.Time
}
