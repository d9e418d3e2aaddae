package sim

import (
	"testing"

	flexcan "github.com/samsamfire/goflexcan"
	"github.com/samsamfire/goflexcan/pkg/mailbox"
	"github.com/stretchr/testify/assert"
)

func mustFrame(t *testing.T, id uint32, payload []byte) flexcan.Frame {
	t.Helper()
	frame, err := flexcan.NewFrame(id, flexcan.Standard, flexcan.DataFrame, payload)
	assert.Nil(t, err)
	return frame
}

// start brings the model out of reset into the running state with the
// given control bits, skipping the full handshake the driver performs.
func start(m *Model, ctrl1 uint32, mcr uint32) {
	m.Store(flexcan.RegCTRL1, ctrl1)
	m.Store(flexcan.RegMCR, mcr)
}

func TestPowerOnState(t *testing.T) {
	m := NewModel(nil)

	mcr := m.Load(flexcan.RegMCR)
	assert.NotZero(t, mcr&flexcan.McrMdis)
	assert.NotZero(t, mcr&flexcan.McrNotRdy)
	assert.Zero(t, m.Load(flexcan.RegESR1))
	assert.Zero(t, m.Load(uint32(0xFFC)))
}

func TestFreezeHandshake(t *testing.T) {
	m := NewModel(nil)

	// enable the module, freeze and halt are still set from reset
	mcr := m.Load(flexcan.RegMCR)
	m.Store(flexcan.RegMCR, mcr&^flexcan.McrMdis)
	mcr = m.Load(flexcan.RegMCR)
	assert.NotZero(t, mcr&flexcan.McrFrzAck)
	assert.NotZero(t, mcr&flexcan.McrNotRdy)

	// soft reset self clears
	m.Store(flexcan.RegMCR, mcr|flexcan.McrSoftRst)
	mcr = m.Load(flexcan.RegMCR)
	assert.Zero(t, mcr&flexcan.McrSoftRst)
	assert.NotZero(t, mcr&flexcan.McrFrzAck)

	// leaving freeze drops both status flags
	m.Store(flexcan.RegMCR, mcr&^(flexcan.McrFrz|flexcan.McrHalt))
	mcr = m.Load(flexcan.RegMCR)
	assert.Zero(t, mcr&flexcan.McrFrzAck)
	assert.Zero(t, mcr&flexcan.McrNotRdy)
}

func TestSoftResetClearsTransferState(t *testing.T) {
	m := NewModel(nil)
	m.Store(flexcan.RegCTRL1, 0x12345678)
	m.Store(flexcan.RegIMASK1, 0x00010100)
	m.Store(flexcan.RegECR, 0x1234)
	m.RaiseError()

	mcr := m.Load(flexcan.RegMCR)
	m.Store(flexcan.RegMCR, mcr|flexcan.McrSoftRst)

	assert.Zero(t, m.Load(flexcan.RegIMASK1))
	assert.Zero(t, m.Load(flexcan.RegECR))
	assert.Zero(t, m.Load(flexcan.RegESR1))
	assert.Equal(t, uint32(0x12345678), m.Load(flexcan.RegCTRL1))
}

func TestStuckFreezeAck(t *testing.T) {
	m := NewModel(nil)
	m.StickFreezeAck(true)

	mcr := m.Load(flexcan.RegMCR)
	m.Store(flexcan.RegMCR, mcr|flexcan.McrFrz|flexcan.McrHalt)
	assert.Zero(t, m.Load(flexcan.RegMCR)&flexcan.McrFrzAck)

	m.StickFreezeAck(false)
	m.Store(flexcan.RegMCR, mcr|flexcan.McrFrz|flexcan.McrHalt)
	assert.NotZero(t, m.Load(flexcan.RegMCR)&flexcan.McrFrzAck)
}

func TestStuckSoftReset(t *testing.T) {
	m := NewModel(nil)
	m.StickSoftReset(true)

	mcr := m.Load(flexcan.RegMCR)
	m.Store(flexcan.RegMCR, mcr|flexcan.McrSoftRst)
	assert.NotZero(t, m.Load(flexcan.RegMCR)&flexcan.McrSoftRst)
}

func TestLoopbackRoundTrip(t *testing.T) {
	m := NewModel(nil)
	start(m, flexcan.Ctrl1Lpb, 0)

	rx := mailbox.New(m, 16)
	rx.ArmRx(0x123, flexcan.Standard)
	rx.SetMask(0x7FF)

	frame := mustFrame(t, 0x123, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	tx := mailbox.New(m, 8)
	assert.Nil(t, tx.WriteFrame(frame))

	iflag := m.Load(flexcan.RegIFLAG1)
	assert.NotZero(t, iflag&(1<<8), "tx completion flag")
	assert.NotZero(t, iflag&(1<<16), "rx full flag")
	assert.Equal(t, flexcan.CodeTxInactive, mailbox.Code(tx.ControlStatus()))

	cs := rx.ControlStatus()
	assert.Equal(t, flexcan.CodeRxFull, mailbox.Code(cs))
	got := rx.Extract(cs)
	rx.Unlock()
	assert.Equal(t, frame.ID, got.ID)
	assert.Equal(t, frame.Length, got.Length)
	assert.Equal(t, frame.Data, got.Data)
}

func TestAcceptanceFilter(t *testing.T) {
	m := NewModel(nil)
	start(m, 0, flexcan.McrSrxDis)

	rx := mailbox.New(m, 16)
	rx.ArmRx(0x200, flexcan.Standard)
	rx.SetMask(0x700)

	m.Inject(mustFrame(t, 0x2AB, []byte{1}))
	assert.NotZero(t, m.Load(flexcan.RegIFLAG1)&(1<<16))

	cs := rx.ControlStatus()
	m.Store(flexcan.RegIFLAG1, 1<<16)
	rx.Reactivate(cs)

	m.Inject(mustFrame(t, 0x100, []byte{2}))
	m.Inject(mustFrame(t, 0x300, []byte{3}))
	assert.Zero(t, m.Load(flexcan.RegIFLAG1)&(1<<16))

	m.Inject(mustFrame(t, 0x2FF, []byte{4}))
	assert.NotZero(t, m.Load(flexcan.RegIFLAG1)&(1<<16))
}

func TestOverrunKeepsStoredFrame(t *testing.T) {
	m := NewModel(nil)
	start(m, 0, flexcan.McrSrxDis)

	rx := mailbox.New(m, 16)
	rx.ArmRx(0x111, flexcan.Standard)
	rx.SetMask(0)

	m.Inject(mustFrame(t, 0x111, []byte{0x01}))
	m.Inject(mustFrame(t, 0x222, []byte{0x02}))

	cs := rx.ControlStatus()
	assert.Equal(t, flexcan.CodeRxOverrun, mailbox.Code(cs))
	got := rx.Extract(cs)
	rx.Unlock()
	assert.Equal(t, uint32(0x111), got.ID, "first frame is retained")
	assert.Equal(t, byte(0x01), got.Data[0])
}

func TestLockDefersSecondFrame(t *testing.T) {
	m := NewModel(nil)
	start(m, 0, flexcan.McrSrxDis)

	rx := mailbox.New(m, 16)
	rx.ArmRx(0x111, flexcan.Standard)
	rx.SetMask(0)

	m.Inject(mustFrame(t, 0x111, []byte{0x01}))
	cs := rx.ControlStatus() // locks the buffer
	assert.Equal(t, flexcan.CodeRxFull, mailbox.Code(cs))

	m.Inject(mustFrame(t, 0x222, []byte{0x02}))
	assert.Equal(t, flexcan.CodeRxFull, mailbox.Code(rx.ControlStatus()),
		"locked buffer must not change under the reader")

	rx.Unlock()
	assert.Equal(t, flexcan.CodeRxOverrun, mailbox.Code(rx.ControlStatus()),
		"deferred frame lands once the lock drops")
}

func TestHoldAbortAndRelease(t *testing.T) {
	m := NewModel(nil)
	start(m, 0, flexcan.McrSrxDis)

	var taps []flexcan.Frame
	m.OnTransmit(func(frame flexcan.Frame) { taps = append(taps, frame) })

	tx := mailbox.New(m, 8)
	frame := mustFrame(t, 0x321, []byte{9, 8, 7})

	m.HoldTransmissions(true)
	assert.Nil(t, tx.WriteFrame(frame))
	assert.Zero(t, m.Load(flexcan.RegIFLAG1)&(1<<8))
	assert.True(t, tx.Busy())

	tx.Abort()
	assert.NotZero(t, m.Load(flexcan.RegIFLAG1)&(1<<8))
	assert.Equal(t, flexcan.CodeTxInactive, mailbox.Code(tx.ControlStatus()))
	assert.Empty(t, taps, "aborted frame never reaches the wire")

	m.Store(flexcan.RegIFLAG1, 1<<8)
	assert.Nil(t, tx.WriteFrame(frame))
	assert.False(t, m.CompleteTransmission(9))
	assert.True(t, m.CompleteTransmission(8))
	assert.Len(t, taps, 1)
	assert.Equal(t, uint32(0x321), taps[0].ID)
	assert.NotZero(t, m.Load(flexcan.RegIFLAG1)&(1<<8))
}

func TestListenOnlyNeverTransmits(t *testing.T) {
	m := NewModel(nil)
	start(m, flexcan.Ctrl1Lom, flexcan.McrSrxDis)

	var taps []flexcan.Frame
	m.OnTransmit(func(frame flexcan.Frame) { taps = append(taps, frame) })

	tx := mailbox.New(m, 8)
	assert.Nil(t, tx.WriteFrame(mustFrame(t, 0x10, []byte{1})))

	assert.Empty(t, taps)
	assert.Zero(t, m.Load(flexcan.RegIFLAG1)&(1<<8))
	assert.True(t, tx.Busy(), "suppressed transmission stays pending")
}

func TestInterruptLineDrains(t *testing.T) {
	m := NewModel(nil)
	start(m, flexcan.Ctrl1Lpb, 0)
	m.Store(flexcan.RegIMASK1, 1<<8|1<<16)

	calls := 0
	m.SetInterruptHandler(func() {
		calls++
		iflag := m.Load(flexcan.RegIFLAG1)
		for mb := uint32(0); mb < flexcan.NumMailboxes; mb++ {
			if iflag&(1<<mb) != 0 {
				m.Store(flexcan.RegIFLAG1, 1<<mb)
				break
			}
		}
	})

	rx := mailbox.New(m, 16)
	rx.ArmRx(0x123, flexcan.Standard)
	rx.SetMask(0)

	tx := mailbox.New(m, 8)
	assert.Nil(t, tx.WriteFrame(mustFrame(t, 0x123, []byte{1, 2})))

	// completion and reception each take one entry of their own
	assert.Equal(t, 2, calls)
	assert.Zero(t, m.Load(flexcan.RegIFLAG1)&m.Load(flexcan.RegIMASK1))
}

func TestErrorLineAndClear(t *testing.T) {
	m := NewModel(nil)
	start(m, flexcan.Ctrl1BoffMsk|flexcan.Ctrl1ErrMsk, flexcan.McrSrxDis)

	calls := 0
	m.SetInterruptHandler(func() {
		calls++
		m.Store(flexcan.RegESR1, m.Load(flexcan.RegESR1))
	})

	m.RaiseBusOff()
	assert.Equal(t, 1, calls)
	esr1 := m.Load(flexcan.RegESR1)
	assert.Zero(t, esr1&flexcan.Esr1BoffInt)
	fltConf := (esr1 & flexcan.Esr1FltConfMask) >> flexcan.Esr1FltConfShift
	assert.Equal(t, uint32(2), fltConf, "confinement survives the flag clear")

	m.RaiseError()
	assert.Equal(t, 2, calls)
	assert.Zero(t, m.Load(flexcan.RegESR1)&flexcan.Esr1ErrInt)
}

func TestNonDrainingHandlerGivesUp(t *testing.T) {
	m := NewModel(nil)
	start(m, 0, flexcan.McrSrxDis)
	m.Store(flexcan.RegIMASK1, 1<<16)

	calls := 0
	m.SetInterruptHandler(func() { calls++ })

	rx := mailbox.New(m, 16)
	rx.ArmRx(0x42, flexcan.Standard)
	rx.SetMask(0)
	m.Inject(mustFrame(t, 0x42, []byte{1}))

	assert.Equal(t, interruptBudget, calls)
}

func TestFaultInjection(t *testing.T) {
	m := NewModel(nil)

	m.SetErrorCounters(130, 7)
	ecr := m.Load(flexcan.RegECR)
	assert.Equal(t, uint32(130), ecr>>8&0xFF)
	assert.Equal(t, uint32(7), ecr&0xFF)

	m.SetFaultConfinement(1)
	fltConf := (m.Load(flexcan.RegESR1) & flexcan.Esr1FltConfMask) >> flexcan.Esr1FltConfShift
	assert.Equal(t, uint32(1), fltConf)
}
