package udp

import (
	"encoding/json"
	"fmt"
	"net"

	"levelsense/internal/ahrs"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Broadcaster sends one JSON datagram per level update to a fixed
// destination, e.g. a phone app on the tow vehicle's network.
type Broadcaster struct {
	dest string
	conn udpConn
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Broadcaster{dest: dest, conn: conn}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

// Level is the telemetry datagram body.
type Level struct {
	FrontHeight  float64 `json:"front_in"`
	SideHeight   float64 `json:"side_in"`
	Pitch        float64 `json:"pitch_deg"`
	Roll         float64 `json:"roll_deg"`
	Calibrated   bool    `json:"calibrated"`
	Mount        string  `json:"mount"`
	Installation string  `json:"installation"`
	UnixMillis   int64   `json:"t_ms"`
}

func LevelFrom(s ahrs.Snapshot) Level {
	l := Level{
		FrontHeight:  s.Offsets.FrontHeight,
		SideHeight:   s.Offsets.SideHeight,
		Pitch:        s.Attitude.Pitch,
		Roll:         s.Attitude.Roll,
		Calibrated:   s.Calibrated,
		Mount:        s.Mount.String(),
		Installation: s.Installation.String(),
	}
	if !s.UpdatedAt.IsZero() {
		l.UnixMillis = s.UpdatedAt.UnixMilli()
	}
	return l
}

// SendLevel encodes a snapshot as a Level datagram. Snapshots without an
// attitude are skipped.
func (b *Broadcaster) SendLevel(s ahrs.Snapshot) error {
	if !s.Valid {
		return nil
	}
	p, err := json.Marshal(LevelFrom(s))
	if err != nil {
		return err
	}
	return b.Send(p)
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
