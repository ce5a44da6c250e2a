package udp

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Broadcaster sends one datagram per telemetry frame.
type Broadcaster struct {
	dest string
	conn udpConn
	now  func() time.Time
}

// Frame wraps a task status for the wire.
type Frame struct {
	Task   string    `json:"task"`
	Tick   uint64    `json:"tick"`
	At     time.Time `json:"at"`
	Status any       `json:"status"`
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		// DialUDP selects a suitable local address automatically.
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
	return &Broadcaster{dest: dest, conn: conn, now: time.Now}, nil
}

func (b *Broadcaster) Dest() string {
	return b.dest
}

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

// SendStatus marshals a status frame and sends it.
func (b *Broadcaster) SendStatus(task string, tick uint64, status any) error {
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	payload, err := json.Marshal(Frame{Task: task, Tick: tick, At: now().UTC(), Status: status})
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return b.Send(payload)
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
