// Package flexcan is a register level driver for FlexCAN style CAN
// controllers. It contains the mailbox model, the freeze mode
// configuration sequencer, the interrupt dispatcher and the fault
// monitor used by the higher level service layer.
package flexcan

// RegisterBlock is the access surface to one controller register file.
// Hardware backends map it onto the peripheral; pkg/sim provides a
// behavioral software implementation. All registers are 32 bit wide and
// addressed by their byte offset.
type RegisterBlock interface {
	Load(offset uint32) uint32
	Store(offset uint32, value uint32)
}

// Mailbox layout of the controller. Mailboxes 0-7 are reserved for the
// RX FIFO when it is enabled, 8-15 form the TX pool and 16-31 the RX
// pool. The partition is fixed at configuration time.
const (
	NumMailboxes   = 32
	TxMailboxStart = 8
	TxMailboxCount = 8
	RxMailboxStart = 16
	RxMailboxCount = 16
)

// MaxDataLength is the payload limit of a classic CAN frame.
const MaxDataLength = 8

// MailboxCS returns the byte offset of a mailbox control/status word.
// Each mailbox occupies four words: CS, ID, DATA0, DATA1.
func MailboxCS(mb uint8) uint32 {
	return RegRAM + uint32(mb)*16
}

// MailboxID returns the byte offset of a mailbox identifier word.
func MailboxID(mb uint8) uint32 {
	return MailboxCS(mb) + 4
}

// MailboxData returns the byte offset of a mailbox payload word (0 or 1).
func MailboxData(mb uint8, word uint8) uint32 {
	return MailboxCS(mb) + 8 + uint32(word)*4
}

// MailboxMask returns the byte offset of a mailbox individual RX mask.
func MailboxMask(mb uint8) uint32 {
	return RegRXIMR + uint32(mb)*4
}
