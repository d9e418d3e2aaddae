package controller

import (
	flexcan "github.com/samsamfire/goflexcan"
	"github.com/samsamfire/goflexcan/pkg/mailbox"
)

// Event identifies what the dispatcher observed.
type Event uint8

const (
	EventNone Event = iota
	EventTxComplete
	EventRxComplete
	// EventOverrun reports a reception that hit a still full mailbox.
	// The stored frame was kept, the newest frame was lost.
	EventOverrun
	EventError
	EventBusOff
)

var eventDescriptions = map[Event]string{
	EventNone:       "none",
	EventTxComplete: "tx complete",
	EventRxComplete: "rx complete",
	EventOverrun:    "rx overrun",
	EventError:      "error",
	EventBusOff:     "bus off",
}

func (e Event) String() string {
	description, ok := eventDescriptions[e]
	if !ok {
		return "unknown"
	}
	return description
}

// EventData carries the payload of one dispatched event. Frame is set
// for receive events, ErrorFlags holds the raw error status word for
// fault events.
type EventData struct {
	Mailbox    uint8
	Frame      *flexcan.Frame
	ErrorFlags uint32
}

// Callback receives dispatched events. It runs inside the interrupt
// context of ServiceInterrupt, keep it short and never block in it.
type Callback func(event Event, data EventData)

// RegisterCallback installs the event callback, replacing any previous
// one. With a nil callback events are still drained from the hardware
// but discarded.
func (c *Controller) RegisterCallback(callback Callback) {
	c.mu.Lock()
	c.callback = callback
	c.mu.Unlock()
}

// UnregisterCallback removes the installed callback.
func (c *Controller) UnregisterCallback() {
	c.RegisterCallback(nil)
}

// ServiceInterrupt is the single dispatcher entry point. Wire it to
// every vector of the instance, any number of lines may alias here.
// One invocation drains at most one mailbox event, lowest index first.
// Remaining flags keep the interrupt line asserted, so the handler is
// simply entered again, which bounds the work done per entry.
func (c *Controller) ServiceInterrupt() {
	c.mu.Lock()
	callback := c.callback
	c.mu.Unlock()

	iflag := c.regs.Load(flexcan.RegIFLAG1)
	for mb := uint8(0); mb < flexcan.NumMailboxes; mb++ {
		if iflag&(1<<mb) == 0 {
			continue
		}
		c.dispatchMailbox(mb, callback)
		break
	}

	c.serviceErrors(callback)
}

// dispatchMailbox classifies one flagged mailbox by its CS code and
// drains it. RX buffers are extracted, cleared and reactivated in one
// sequence, splitting it would open a race with the next reception.
func (c *Controller) dispatchMailbox(mb uint8, callback Callback) {
	view := mailbox.New(c.regs, mb)
	cs := view.ControlStatus()

	switch mailbox.Code(cs) {
	case flexcan.CodeTxInactive:
		c.regs.Store(flexcan.RegIFLAG1, 1<<mb)
		if callback != nil {
			callback(EventTxComplete, EventData{Mailbox: mb})
		}

	case flexcan.CodeRxFull:
		frame := view.Extract(cs)
		c.regs.Store(flexcan.RegIFLAG1, 1<<mb)
		view.Reactivate(cs)
		if callback != nil {
			callback(EventRxComplete, EventData{Mailbox: mb, Frame: &frame})
		}

	case flexcan.CodeRxOverrun:
		frame := view.Extract(cs)
		c.regs.Store(flexcan.RegIFLAG1, 1<<mb)
		view.Reactivate(cs)
		c.logger.Warn("rx overrun, frame lost", "mailbox", mb)
		if callback != nil {
			callback(EventOverrun, EventData{Mailbox: mb, Frame: &frame})
		}

	default:
		// stale flag, drop it so the line can de-assert
		c.regs.Store(flexcan.RegIFLAG1, 1<<mb)
		c.logger.Debug("flag with unexpected code",
			"mailbox", mb,
			"code", mailbox.CodeDescription(mailbox.Code(cs)),
		)
	}
}

// serviceErrors drains the bus off and error flags when their
// interrupts were enabled at configuration time.
func (c *Controller) serviceErrors(callback Callback) {
	ctrl1 := c.regs.Load(flexcan.RegCTRL1)
	if ctrl1&(flexcan.Ctrl1BoffMsk|flexcan.Ctrl1ErrMsk) == 0 {
		return
	}
	esr1 := c.regs.Load(flexcan.RegESR1)

	if ctrl1&flexcan.Ctrl1BoffMsk != 0 && esr1&flexcan.Esr1BoffInt != 0 {
		c.regs.Store(flexcan.RegESR1, flexcan.Esr1BoffInt)
		c.logger.Warn("bus off", "esr1", esr1)
		if callback != nil {
			callback(EventBusOff, EventData{ErrorFlags: esr1})
		}
	}
	if ctrl1&flexcan.Ctrl1ErrMsk != 0 && esr1&flexcan.Esr1ErrInt != 0 {
		c.regs.Store(flexcan.RegESR1, flexcan.Esr1ErrInt)
		if callback != nil {
			callback(EventError, EventData{ErrorFlags: esr1})
		}
	}
}
