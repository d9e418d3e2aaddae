// Package mailbox models the message buffers of the controller. It owns
// the control/status word codec and the access primitives that respect
// the register ordering the hardware mandates: a TX buffer is armed by
// its CS write, so payload and identifier words go first, and an RX
// buffer is locked by its CS read until the free running timer is read
// or its CS word is rewritten.
package mailbox

import (
	"fmt"

	flexcan "github.com/samsamfire/goflexcan"
)

// Mailbox is a view over one message buffer of a register block.
type Mailbox struct {
	regs  flexcan.RegisterBlock
	index uint8
}

// New returns a view over message buffer index of regs.
func New(regs flexcan.RegisterBlock, index uint8) Mailbox {
	return Mailbox{regs: regs, index: index}
}

// Index returns the buffer index of the view.
func (m Mailbox) Index() uint8 {
	return m.index
}

// ControlStatus reads the raw CS word. On a full RX buffer this read
// locks the buffer against hardware update until Unlock or Reactivate.
func (m Mailbox) ControlStatus() uint32 {
	return m.regs.Load(flexcan.MailboxCS(m.index))
}

// Unlock releases a buffer locked by ControlStatus by reading the free
// running timer.
func (m Mailbox) Unlock() {
	m.regs.Load(flexcan.RegTIMER)
}

// WriteFrame arms the buffer for transmission. The payload words and
// the identifier word are written before the CS word, which is what
// starts the transfer.
func (m Mailbox) WriteFrame(frame flexcan.Frame) error {
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("write mailbox %v: %w", m.index, err)
	}

	word0, word1 := PackPayload(frame.Data)
	m.regs.Store(flexcan.MailboxData(m.index, 0), word0)
	m.regs.Store(flexcan.MailboxData(m.index, 1), word1)
	m.regs.Store(flexcan.MailboxID(m.index), EncodeID(frame.ID, frame.Type))
	m.regs.Store(flexcan.MailboxCS(m.index), EncodeTxCS(frame))
	return nil
}

// Extract decodes the frame held by the buffer, given the CS word that
// was already read to classify it. It performs the identifier and
// payload reads but leaves unlocking to the caller.
func (m Mailbox) Extract(cs uint32) flexcan.Frame {
	idWord := m.regs.Load(flexcan.MailboxID(m.index))
	word0 := m.regs.Load(flexcan.MailboxData(m.index, 0))
	word1 := m.regs.Load(flexcan.MailboxData(m.index, 1))

	id, idType := DecodeID(idWord, cs)
	frame := flexcan.Frame{
		ID:     id,
		Type:   idType,
		Length: DLC(cs),
	}
	if cs&flexcan.CsRtr != 0 {
		frame.Kind = flexcan.RemoteFrame
	}
	frame.Data = UnpackPayload(word0, word1)
	return frame
}

// Reactivate re-arms an RX buffer after its frame was extracted. The
// identifier width and remote bits of the previous CS word are carried
// over bit for bit, losing them would change the filter matching of
// every later frame. The CS write also releases the buffer lock.
func (m Mailbox) Reactivate(cs uint32) {
	next := flexcan.CodeRxEmpty<<flexcan.CsCodeShift |
		cs&(flexcan.CsIde|flexcan.CsRtr)
	m.regs.Store(flexcan.MailboxCS(m.index), next)
}

// ArmRx programs the identifier word and an empty CS word so the buffer
// starts accepting frames for the given identifier.
func (m Mailbox) ArmRx(id uint32, idType flexcan.IDType) {
	m.regs.Store(flexcan.MailboxID(m.index), EncodeID(id, idType))

	cs := flexcan.CodeRxEmpty << flexcan.CsCodeShift
	if idType == flexcan.Extended {
		cs |= flexcan.CsIde
	}
	m.regs.Store(flexcan.MailboxCS(m.index), cs)
}

// SetMask programs the individual acceptance mask of the buffer. Mask
// bit 1 means the identifier bit must match, 0 means don't care.
func (m Mailbox) SetMask(mask uint32) {
	m.regs.Store(flexcan.MailboxMask(m.index), mask)
}

// Arm marks the buffer as an inactive TX buffer.
func (m Mailbox) Arm() {
	m.regs.Store(flexcan.MailboxCS(m.index), flexcan.CodeTxInactive<<flexcan.CsCodeShift)
}

// Abort requests a best effort abort of a pending transmission. A frame
// already on the wire still completes and still produces its completion
// event.
func (m Mailbox) Abort() {
	m.regs.Store(flexcan.MailboxCS(m.index), flexcan.CodeTxAbort<<flexcan.CsCodeShift)
}

// Busy reports whether the buffer currently holds any active role. Only
// the two inactive codes count as free, an armed or full buffer is busy.
func (m Mailbox) Busy() bool {
	return IsBusyCode(Code(m.ControlStatus()))
}

// ClearAll zeroes the CS, identifier and payload words of every buffer.
// It runs during the soft reset phase while the controller is frozen.
func ClearAll(regs flexcan.RegisterBlock) {
	for mb := uint8(0); mb < flexcan.NumMailboxes; mb++ {
		regs.Store(flexcan.MailboxCS(mb), 0)
		regs.Store(flexcan.MailboxID(mb), 0)
		regs.Store(flexcan.MailboxData(mb, 0), 0)
		regs.Store(flexcan.MailboxData(mb, 1), 0)
	}
}

// ResetMasks programs every individual mask to require an exact
// identifier match, which keeps unconfigured buffers quiet.
func ResetMasks(regs flexcan.RegisterBlock) {
	for mb := uint8(0); mb < flexcan.NumMailboxes; mb++ {
		regs.Store(flexcan.MailboxMask(mb), flexcan.ExactMatchMask)
	}
}
