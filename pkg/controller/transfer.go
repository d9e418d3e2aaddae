package controller

import (
	"fmt"

	flexcan "github.com/samsamfire/goflexcan"
	"github.com/samsamfire/goflexcan/internal/spin"
	"github.com/samsamfire/goflexcan/pkg/mailbox"
)

// Filter is one acceptance filter. A frame lands in the mailbox when
// its identifier width matches Type and its identifier agrees with ID
// on every bit set in Mask.
type Filter struct {
	ID   uint32
	Mask uint32
	Type flexcan.IDType
}

// ConfigRxFilter arms an RX pool mailbox with an acceptance filter and
// enables its interrupt.
func (c *Controller) ConfigRxFilter(mb uint8, filter Filter) error {
	if err := c.ready(); err != nil {
		return fmt.Errorf("config rx filter: %w", err)
	}
	if mb < flexcan.RxMailboxStart || mb >= flexcan.NumMailboxes {
		return fmt.Errorf("config rx filter: mailbox %v outside rx pool: %w",
			mb, flexcan.ErrInvalidParam)
	}

	view := mailbox.New(c.regs, mb)
	view.ArmRx(filter.ID, filter.Type)
	view.SetMask(filter.Mask)
	c.enableMailboxInterrupt(mb)
	return nil
}

// ConfigTxMailbox marks a TX pool mailbox inactive and enables its
// completion interrupt.
func (c *Controller) ConfigTxMailbox(mb uint8) error {
	if err := c.ready(); err != nil {
		return fmt.Errorf("config tx mailbox: %w", err)
	}
	if mb < flexcan.TxMailboxStart || mb >= flexcan.TxMailboxStart+flexcan.TxMailboxCount {
		return fmt.Errorf("config tx mailbox: mailbox %v outside tx pool: %w",
			mb, flexcan.ErrInvalidParam)
	}

	mailbox.New(c.regs, mb).Arm()
	c.enableMailboxInterrupt(mb)
	return nil
}

// Send arms a TX pool mailbox with a frame without waiting for
// completion. The stale completion flag of the mailbox is dropped
// first. The mailbox is overwritten regardless of its previous state,
// callers needing collision safety check IsMailboxBusy first.
func (c *Controller) Send(mb uint8, frame flexcan.Frame) error {
	if err := c.ready(); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if mb < flexcan.TxMailboxStart || mb >= flexcan.TxMailboxStart+flexcan.TxMailboxCount {
		return fmt.Errorf("send: mailbox %v outside tx pool: %w",
			mb, flexcan.ErrInvalidParam)
	}
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	c.regs.Store(flexcan.RegIFLAG1, 1<<mb)
	return mailbox.New(c.regs, mb).WriteFrame(frame)
}

// SendBlocking sends and busy waits for the completion flag. The
// timeout is an iteration bound scaled from milliseconds, approximate
// by design. Timing out leaves the mailbox and its pending transmission
// untouched.
func (c *Controller) SendBlocking(mb uint8, frame flexcan.Frame, timeoutMs uint32) error {
	if err := c.Send(mb, frame); err != nil {
		return err
	}

	done := spin.Until(spin.Budget(timeoutMs), func() bool {
		return c.regs.Load(flexcan.RegIFLAG1)&(1<<mb) != 0
	})
	if !done {
		return fmt.Errorf("send blocking: %w", flexcan.ErrTimeout)
	}
	c.regs.Store(flexcan.RegIFLAG1, 1<<mb)
	return nil
}

// Receive drains an RX pool mailbox without waiting, returning
// ErrNoMessage when nothing is pending. The buffer is read under its
// hardware lock and unlocked through the timer read, but not
// reactivated, re-arming after extraction is the dispatcher's job.
func (c *Controller) Receive(mb uint8) (flexcan.Frame, error) {
	if err := c.ready(); err != nil {
		return flexcan.Frame{}, fmt.Errorf("receive: %w", err)
	}
	if mb < flexcan.RxMailboxStart || mb >= flexcan.NumMailboxes {
		return flexcan.Frame{}, fmt.Errorf("receive: mailbox %v outside rx pool: %w",
			mb, flexcan.ErrInvalidParam)
	}
	if c.regs.Load(flexcan.RegIFLAG1)&(1<<mb) == 0 {
		return flexcan.Frame{}, flexcan.ErrNoMessage
	}

	view := mailbox.New(c.regs, mb)
	cs := view.ControlStatus()
	frame := view.Extract(cs)
	view.Unlock()
	c.regs.Store(flexcan.RegIFLAG1, 1<<mb)
	return frame, nil
}

// ReceiveBlocking busy waits for a reception on the mailbox and drains
// it. The timeout is the same approximate iteration bound SendBlocking
// uses.
func (c *Controller) ReceiveBlocking(mb uint8, timeoutMs uint32) (flexcan.Frame, error) {
	if err := c.ready(); err != nil {
		return flexcan.Frame{}, fmt.Errorf("receive blocking: %w", err)
	}
	if mb < flexcan.RxMailboxStart || mb >= flexcan.NumMailboxes {
		return flexcan.Frame{}, fmt.Errorf("receive blocking: mailbox %v outside rx pool: %w",
			mb, flexcan.ErrInvalidParam)
	}

	arrived := spin.Until(spin.Budget(timeoutMs), func() bool {
		return c.regs.Load(flexcan.RegIFLAG1)&(1<<mb) != 0
	})
	if !arrived {
		return flexcan.Frame{}, fmt.Errorf("receive blocking: %w", flexcan.ErrTimeout)
	}
	return c.Receive(mb)
}

// Abort writes the abort code to a mailbox. Best effort, a frame
// already on the wire completes and still raises its completion event.
func (c *Controller) Abort(mb uint8) error {
	if mb >= flexcan.NumMailboxes {
		return fmt.Errorf("abort: mailbox %v out of range: %w",
			mb, flexcan.ErrInvalidParam)
	}
	mailbox.New(c.regs, mb).Abort()
	return nil
}

// IsMailboxBusy reports whether a mailbox holds an active role. Armed,
// full and aborting mailboxes count as busy, only the two inactive
// codes are free.
func (c *Controller) IsMailboxBusy(mb uint8) (bool, error) {
	if mb >= flexcan.NumMailboxes {
		return false, fmt.Errorf("mailbox busy: mailbox %v out of range: %w",
			mb, flexcan.ErrInvalidParam)
	}
	return mailbox.New(c.regs, mb).Busy(), nil
}

func (c *Controller) enableMailboxInterrupt(mb uint8) {
	imask := c.regs.Load(flexcan.RegIMASK1)
	c.regs.Store(flexcan.RegIMASK1, imask|1<<mb)
}
