// Package sim provides an in-memory model of the controller register
// block, faithful enough to exercise the freeze handshake, the mailbox
// state machine, acceptance filtering and the interrupt line without
// hardware. It backs the package tests and the loopback demos, and a
// bridge can tap its TX side to splice the model into a real network.
package sim

import (
	"log/slog"
	"sync"

	flexcan "github.com/samsamfire/goflexcan"
	"github.com/samsamfire/goflexcan/pkg/mailbox"
)

const ramWords = flexcan.NumMailboxes * 4

// A non draining interrupt handler keeps the line asserted. Give up
// re-firing after this many entries instead of spinning forever.
const interruptBudget = 64

// Model emulates one controller instance behind the register access
// interface. All register traffic is serialized by an internal mutex;
// the interrupt handler and the transmit tap are always invoked with
// that mutex released, so they may freely load and store registers.
type Model struct {
	mu     sync.Mutex
	logger *slog.Logger

	mcr      uint32
	ctrl1    uint32
	timer    uint32
	rxmgmask uint32
	ecr      uint32
	esr1     uint32
	imask1   uint32
	iflag1   uint32
	ram      [ramWords]uint32
	rximr    [flexcan.NumMailboxes]uint32

	handler  func()
	tap      func(flexcan.Frame)
	inIRQ    bool
	outbound []flexcan.Frame

	txHold   bool
	held     []uint8
	locked   int
	deferred []flexcan.Frame

	stuckFreeze bool
	stuckReset  bool
}

// NewModel returns a model in its power-on state, disabled and frozen.
// A nil logger falls back to the default logger.
func NewModel(logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{
		logger: logger.With("service", "[SIM]"),
		mcr: flexcan.McrMdis | flexcan.McrFrz |
			flexcan.McrHalt | flexcan.McrNotRdy,
		locked: -1,
	}
}

// SetInterruptHandler wires the interrupt line. The handler plays the
// role of the vector table entry: it fires after any access that leaves
// an enabled flag pending and re-fires after each return until the line
// de-asserts.
func (m *Model) SetInterruptHandler(handler func()) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	m.fireInterrupts()
}

// OnTransmit registers a tap receiving every frame that leaves on the
// wire. Loopback keeps frames internal, so the tap only sees traffic
// from normal and listen-only capable modes.
func (m *Model) OnTransmit(tap func(flexcan.Frame)) {
	m.mu.Lock()
	m.tap = tap
	m.mu.Unlock()
}

// Inject delivers a frame to the model as if it arrived from the bus.
// Frames are dropped while the module is frozen or disabled, and frames
// matching no armed buffer vanish, as they would on hardware.
func (m *Model) Inject(frame flexcan.Frame) {
	m.mu.Lock()
	m.deliverLocked(frame)
	m.mu.Unlock()
	m.fireInterrupts()
}

// HoldTransmissions keeps armed TX buffers from completing, as if bus
// arbitration were permanently lost. Held buffers stay pending until
// aborted or released.
func (m *Model) HoldTransmissions(hold bool) {
	m.mu.Lock()
	m.txHold = hold
	m.mu.Unlock()
}

// CompleteTransmission finishes one held transmission and reports
// whether the buffer was actually pending.
func (m *Model) CompleteTransmission(mb uint8) bool {
	m.mu.Lock()
	found := false
	for i, held := range m.held {
		if held == mb {
			m.held = append(m.held[:i], m.held[i+1:]...)
			m.completeTxLocked(mb)
			found = true
			break
		}
	}
	m.mu.Unlock()
	m.flushTaps()
	m.fireInterrupts()
	return found
}

// ReleaseTransmissions completes every held transmission in arming
// order and turns holding off.
func (m *Model) ReleaseTransmissions() {
	m.mu.Lock()
	held := m.held
	m.held = nil
	m.txHold = false
	for _, mb := range held {
		m.completeTxLocked(mb)
	}
	m.mu.Unlock()
	m.flushTaps()
	m.fireInterrupts()
}

// SetFaultConfinement places value into the fault confinement field.
func (m *Model) SetFaultConfinement(value uint32) {
	m.mu.Lock()
	m.esr1 = m.esr1&^flexcan.Esr1FltConfMask |
		(value<<flexcan.Esr1FltConfShift)&flexcan.Esr1FltConfMask
	m.mu.Unlock()
}

// SetErrorCounters loads the TX and RX error counters.
func (m *Model) SetErrorCounters(tx uint8, rx uint8) {
	m.mu.Lock()
	m.ecr = uint32(tx)<<8 | uint32(rx)
	m.mu.Unlock()
}

// RaiseBusOff latches the bus off interrupt flag and moves the fault
// confinement field to the bus off range.
func (m *Model) RaiseBusOff() {
	m.mu.Lock()
	m.esr1 |= flexcan.Esr1BoffInt
	m.esr1 = m.esr1&^flexcan.Esr1FltConfMask | 2<<flexcan.Esr1FltConfShift
	m.mu.Unlock()
	m.fireInterrupts()
}

// RaiseError latches the error interrupt flag.
func (m *Model) RaiseError() {
	m.mu.Lock()
	m.esr1 |= flexcan.Esr1ErrInt
	m.mu.Unlock()
	m.fireInterrupts()
}

// StickFreezeAck makes freeze entry never acknowledge, forcing the
// timeout path of the handshake.
func (m *Model) StickFreezeAck(stuck bool) {
	m.mu.Lock()
	m.stuckFreeze = stuck
	m.mu.Unlock()
}

// StickSoftReset keeps the soft reset bit from self clearing.
func (m *Model) StickSoftReset(stuck bool) {
	m.mu.Lock()
	m.stuckReset = stuck
	m.mu.Unlock()
}

// Load implements the register access interface.
func (m *Model) Load(offset uint32) uint32 {
	m.mu.Lock()
	value := m.loadLocked(offset)
	m.mu.Unlock()
	m.fireInterrupts()
	return value
}

// Store implements the register access interface.
func (m *Model) Store(offset uint32, value uint32) {
	m.mu.Lock()
	m.storeLocked(offset, value)
	m.mu.Unlock()
	m.flushTaps()
	m.fireInterrupts()
}

func (m *Model) loadLocked(offset uint32) uint32 {
	switch {
	case offset == flexcan.RegMCR:
		return m.mcr
	case offset == flexcan.RegCTRL1:
		return m.ctrl1
	case offset == flexcan.RegTIMER:
		// the timer read is the mailbox unlock
		m.timer++
		m.releaseLockLocked()
		return m.timer & flexcan.CsTimestampMask
	case offset == flexcan.RegRXMGMASK:
		return m.rxmgmask
	case offset == flexcan.RegECR:
		return m.ecr
	case offset == flexcan.RegESR1:
		return m.esr1
	case offset == flexcan.RegIMASK1:
		return m.imask1
	case offset == flexcan.RegIFLAG1:
		return m.iflag1
	case offset >= flexcan.RegRAM && offset < flexcan.RegRAM+4*ramWords:
		word := (offset - flexcan.RegRAM) / 4
		value := m.ram[word]
		if word%4 == 0 {
			m.lockOnReadLocked(int(word/4), value)
		}
		return value
	case offset >= flexcan.RegRXIMR && offset < flexcan.RegRXIMR+4*flexcan.NumMailboxes:
		return m.rximr[(offset-flexcan.RegRXIMR)/4]
	}
	m.logger.Warn("load from unmapped offset", "offset", offset)
	return 0
}

// lockOnReadLocked latches the single mailbox lock when a full or
// overrun CS word is read. Reading another such CS word moves the lock,
// releasing the previous holder.
func (m *Model) lockOnReadLocked(mb int, cs uint32) {
	code := mailbox.Code(cs)
	if code != flexcan.CodeRxFull && code != flexcan.CodeRxOverrun {
		return
	}
	if m.locked == mb {
		return
	}
	m.releaseLockLocked()
	m.locked = mb
}

func (m *Model) releaseLockLocked() {
	if m.locked < 0 {
		return
	}
	m.locked = -1
	pending := m.deferred
	m.deferred = nil
	for _, frame := range pending {
		m.deliverLocked(frame)
	}
}

func (m *Model) storeLocked(offset uint32, value uint32) {
	switch {
	case offset == flexcan.RegMCR:
		m.storeMCRLocked(value)
	case offset == flexcan.RegCTRL1:
		// CLKSRC is writable only while the module is disabled
		if m.mcr&flexcan.McrMdis == 0 {
			value = value&^flexcan.Ctrl1ClkSrc | m.ctrl1&flexcan.Ctrl1ClkSrc
		}
		m.ctrl1 = value
	case offset == flexcan.RegTIMER:
		m.timer = value & flexcan.CsTimestampMask
	case offset == flexcan.RegRXMGMASK:
		m.rxmgmask = value
	case offset == flexcan.RegECR:
		m.ecr = value
	case offset == flexcan.RegESR1:
		// write 1 to clear, only the interrupt flags react
		m.esr1 &^= value & (flexcan.Esr1BoffInt | flexcan.Esr1ErrInt)
	case offset == flexcan.RegIMASK1:
		m.imask1 = value
	case offset == flexcan.RegIFLAG1:
		m.iflag1 &^= value
	case offset >= flexcan.RegRAM && offset < flexcan.RegRAM+4*ramWords:
		m.storeRAMLocked((offset-flexcan.RegRAM)/4, value)
	case offset >= flexcan.RegRXIMR && offset < flexcan.RegRXIMR+4*flexcan.NumMailboxes:
		m.rximr[(offset-flexcan.RegRXIMR)/4] = value
	default:
		m.logger.Warn("store to unmapped offset", "offset", offset, "value", value)
	}
}

func (m *Model) storeMCRLocked(value uint32) {
	const status = flexcan.McrNotRdy | flexcan.McrFrzAck
	next := value &^ (status | flexcan.McrSoftRst)

	if value&flexcan.McrSoftRst != 0 {
		if m.stuckReset {
			next |= flexcan.McrSoftRst
		} else {
			m.softResetLocked()
			next |= flexcan.McrFrz | flexcan.McrHalt
		}
	}

	switch {
	case next&flexcan.McrMdis != 0:
		next |= flexcan.McrNotRdy
	case next&(flexcan.McrFrz|flexcan.McrHalt) == flexcan.McrFrz|flexcan.McrHalt:
		next |= flexcan.McrNotRdy
		if !m.stuckFreeze {
			next |= flexcan.McrFrzAck
		}
	}
	m.mcr = next
}

// softResetLocked resets the transfer related registers. Control,
// mailbox RAM and the acceptance masks survive, clearing those is the
// driver's job during configuration.
func (m *Model) softResetLocked() {
	m.timer = 0
	m.ecr = 0
	m.esr1 = 0
	m.imask1 = 0
	m.iflag1 = 0
	m.held = nil
	m.deferred = nil
	m.locked = -1
}

func (m *Model) storeRAMLocked(word uint32, value uint32) {
	m.ram[word] = value
	if word%4 != 0 {
		return
	}
	mb := uint8(word / 4)
	if int(mb) == m.locked {
		// rewriting the CS word releases the lock
		m.releaseLockLocked()
	}
	if !m.runningLocked() {
		return
	}
	switch mailbox.Code(value) {
	case flexcan.CodeTxData:
		m.transmitLocked(mb)
	case flexcan.CodeTxAbort:
		m.abortLocked(mb)
	}
}

func (m *Model) runningLocked() bool {
	return m.mcr&(flexcan.McrMdis|flexcan.McrNotRdy) == 0
}

func (m *Model) transmitLocked(mb uint8) {
	if m.ctrl1&flexcan.Ctrl1Lom != 0 {
		// listen only never drives the bus, the buffer stays pending
		m.logger.Debug("transmission suppressed in listen only mode", "mailbox", mb)
		return
	}
	if m.txHold {
		m.held = append(m.held, mb)
		m.logger.Debug("transmission held", "mailbox", mb)
		return
	}
	m.completeTxLocked(mb)
}

func (m *Model) completeTxLocked(mb uint8) {
	frame := m.readMailboxLocked(mb)
	m.timer++
	m.ram[4*uint32(mb)] = flexcan.CodeTxInactive << flexcan.CsCodeShift
	m.iflag1 |= 1 << mb

	if m.ctrl1&flexcan.Ctrl1Lpb == 0 && m.tap != nil {
		m.outbound = append(m.outbound, frame)
	}
	if m.mcr&flexcan.McrSrxDis == 0 {
		m.deliverLocked(frame)
	}
}

func (m *Model) abortLocked(mb uint8) {
	base := 4 * uint32(mb)
	for i, held := range m.held {
		if held == mb {
			m.held = append(m.held[:i], m.held[i+1:]...)
			m.ram[base] = flexcan.CodeTxInactive << flexcan.CsCodeShift
			m.iflag1 |= 1 << mb
			m.logger.Debug("transmission aborted", "mailbox", mb)
			return
		}
	}
	if m.iflag1&(1<<mb) != 0 {
		// the frame already left, keep its completion observable
		m.ram[base] = flexcan.CodeTxInactive << flexcan.CsCodeShift
	}
}

func (m *Model) readMailboxLocked(mb uint8) flexcan.Frame {
	base := 4 * uint32(mb)
	cs := m.ram[base]
	id, idType := mailbox.DecodeID(m.ram[base+1], cs)
	frame := flexcan.Frame{
		ID:     id,
		Type:   idType,
		Length: mailbox.DLC(cs),
	}
	if cs&flexcan.CsRtr != 0 {
		frame.Kind = flexcan.RemoteFrame
	}
	frame.Data = mailbox.UnpackPayload(m.ram[base+2], m.ram[base+3])
	return frame
}

// deliverLocked runs acceptance filtering for one inbound frame. Empty
// buffers are matched first, then occupied ones, which flip to overrun
// keeping their stored frame while the new one is lost. A frame whose
// only match is the locked buffer is parked until the lock drops.
func (m *Model) deliverLocked(frame flexcan.Frame) {
	if !m.runningLocked() {
		return
	}
	for mb := uint8(0); mb < flexcan.NumMailboxes; mb++ {
		if mailbox.Code(m.ram[4*uint32(mb)]) != flexcan.CodeRxEmpty {
			continue
		}
		if !m.matchesLocked(mb, frame) {
			continue
		}
		m.writeRxLocked(mb, frame)
		m.iflag1 |= 1 << mb
		return
	}
	for mb := uint8(0); mb < flexcan.NumMailboxes; mb++ {
		code := mailbox.Code(m.ram[4*uint32(mb)])
		if code != flexcan.CodeRxFull && code != flexcan.CodeRxOverrun {
			continue
		}
		if !m.matchesLocked(mb, frame) {
			continue
		}
		if int(mb) == m.locked {
			m.deferred = append(m.deferred, frame)
			return
		}
		cs := m.ram[4*uint32(mb)]
		m.ram[4*uint32(mb)] = cs&^flexcan.CsCodeMask |
			flexcan.CodeRxOverrun<<flexcan.CsCodeShift
		m.iflag1 |= 1 << mb
		m.logger.Debug("rx overrun", "mailbox", mb, "id", frame.ID)
		return
	}
	m.logger.Debug("frame matched no filter", "id", frame.ID)
}

// matchesLocked applies the acceptance rule of one buffer, identifier
// width must agree and the masked identifiers must be equal.
func (m *Model) matchesLocked(mb uint8, frame flexcan.Frame) bool {
	base := 4 * uint32(mb)
	cs := m.ram[base]
	if (cs&flexcan.CsIde != 0) != (frame.Type == flexcan.Extended) {
		return false
	}
	want, _ := mailbox.DecodeID(m.ram[base+1], cs)
	mask := m.rximr[mb]
	return frame.ID&mask == want&mask
}

func (m *Model) writeRxLocked(mb uint8, frame flexcan.Frame) {
	base := 4 * uint32(mb)
	m.timer++
	cs := flexcan.CodeRxFull<<flexcan.CsCodeShift |
		uint32(frame.Length)<<flexcan.CsDlcShift |
		m.timer&flexcan.CsTimestampMask
	if frame.Type == flexcan.Extended {
		cs |= flexcan.CsIde | flexcan.CsSrr
	}
	if frame.Kind == flexcan.RemoteFrame {
		cs |= flexcan.CsRtr
	}
	word0, word1 := mailbox.PackPayload(frame.Data)
	m.ram[base] = cs
	m.ram[base+1] = mailbox.EncodeID(frame.ID, frame.Type)
	m.ram[base+2] = word0
	m.ram[base+3] = word1
}

func (m *Model) flushTaps() {
	m.mu.Lock()
	frames := m.outbound
	m.outbound = nil
	tap := m.tap
	m.mu.Unlock()
	if tap == nil {
		return
	}
	for _, frame := range frames {
		tap(frame)
	}
}

func (m *Model) pendingLocked() bool {
	if m.iflag1&m.imask1 != 0 {
		return true
	}
	if m.esr1&flexcan.Esr1BoffInt != 0 && m.ctrl1&flexcan.Ctrl1BoffMsk != 0 {
		return true
	}
	return m.esr1&flexcan.Esr1ErrInt != 0 && m.ctrl1&flexcan.Ctrl1ErrMsk != 0
}

// fireInterrupts drives the level triggered interrupt line. The handler
// runs with the model unlocked and is re-entered until the line drops,
// a nested access never re-fires thanks to the in-IRQ latch.
func (m *Model) fireInterrupts() {
	for attempt := 0; ; attempt++ {
		m.mu.Lock()
		handler := m.handler
		pending := m.pendingLocked()
		if handler == nil || !pending || m.inIRQ {
			m.mu.Unlock()
			return
		}
		if attempt >= interruptBudget {
			m.mu.Unlock()
			m.logger.Warn("interrupt line still asserted, handler does not drain")
			return
		}
		m.inIRQ = true
		m.mu.Unlock()

		handler()

		m.mu.Lock()
		m.inIRQ = false
		m.mu.Unlock()
	}
}
