// Package bridge splices an emulated controller into a real CAN
// network: frames the controller transmits are published on a host
// SocketCAN interface, and traffic arriving on that interface is
// injected into the emulated wire. Together with pkg/sim this runs the
// whole driver stack against live bus traffic without silicon.
package bridge

import (
	"fmt"

	sockcan "github.com/brutella/can"
	log "github.com/sirupsen/logrus"

	flexcan "github.com/samsamfire/goflexcan"
	"github.com/samsamfire/goflexcan/pkg/sim"
)

// SocketCAN identifier flag bits, as laid out in the kernel headers.
const (
	canEffFlag uint32 = 0x80000000
	canRtrFlag uint32 = 0x40000000
	canSffMask uint32 = 0x000007FF
	canEffMask uint32 = 0x1FFFFFFF
)

// Bridge mirrors frames between one model and one SocketCAN interface.
type Bridge struct {
	model *sim.Model
	bus   *sockcan.Bus
	name  string
}

// NewBridge opens the named SocketCAN interface, e.g. can0 or vcan0.
func NewBridge(model *sim.Model, name string) (*Bridge, error) {
	if model == nil {
		return nil, fmt.Errorf("no model given: %w", flexcan.ErrInvalidParam)
	}
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, fmt.Errorf("open %v: %w", name, err)
	}
	return &Bridge{model: model, bus: bus, name: name}, nil
}

// Start wires both directions and begins publishing. It returns
// immediately; reception runs on the bus goroutine until Close.
func (b *Bridge) Start() error {
	b.model.OnTransmit(b.publish)
	b.bus.Subscribe(b)
	go func() {
		if err := b.bus.ConnectAndPublish(); err != nil {
			log.Errorf("[BRIDGE] %v connection closed : %v", b.name, err)
		}
	}()
	log.Infof("[BRIDGE] mirroring frames on %v", b.name)
	return nil
}

// publish forwards one controller transmission to the host bus.
func (b *Bridge) publish(frame flexcan.Frame) {
	if err := b.bus.Publish(toSocketCAN(frame)); err != nil {
		log.Warnf("[BRIDGE] publish of x%x failed : %v", frame.ID, err)
	}
}

// Handle implements the brutella/can handler interface for frames
// arriving from the host bus.
func (b *Bridge) Handle(frame sockcan.Frame) {
	b.model.Inject(fromSocketCAN(frame))
}

// toSocketCAN folds the width and remote flags into the identifier
// word the way the kernel expects them.
func toSocketCAN(frame flexcan.Frame) sockcan.Frame {
	id := frame.ID & canSffMask
	if frame.Type == flexcan.Extended {
		id = frame.ID&canEffMask | canEffFlag
	}
	if frame.Kind == flexcan.RemoteFrame {
		id |= canRtrFlag
	}
	return sockcan.Frame{
		ID:     id,
		Length: frame.Length,
		Data:   frame.Data,
	}
}

func fromSocketCAN(frame sockcan.Frame) flexcan.Frame {
	inbound := flexcan.Frame{
		ID:     frame.ID & canSffMask,
		Length: frame.Length,
		Data:   frame.Data,
	}
	if frame.ID&canEffFlag != 0 {
		inbound.ID = frame.ID & canEffMask
		inbound.Type = flexcan.Extended
	}
	if frame.ID&canRtrFlag != 0 {
		inbound.Kind = flexcan.RemoteFrame
	}
	if inbound.Length > flexcan.MaxDataLength {
		inbound.Length = flexcan.MaxDataLength
	}
	return inbound
}

// Close detaches the transmit tap and disconnects from the interface.
func (b *Bridge) Close() error {
	b.model.OnTransmit(nil)
	return b.bus.Disconnect()
}
