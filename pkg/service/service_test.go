package service

import (
	"testing"

	flexcan "github.com/samsamfire/goflexcan"
	"github.com/samsamfire/goflexcan/pkg/controller"
	"github.com/samsamfire/goflexcan/pkg/mailbox"
	"github.com/samsamfire/goflexcan/pkg/sim"
	"github.com/stretchr/testify/assert"
)

// recorder collects service events and received messages.
type recorder struct {
	events   []Event
	messages []Message
}

func (r *recorder) callback(event Event, message *Message) {
	r.events = append(r.events, event)
	if message != nil {
		r.messages = append(r.messages, *message)
	}
}

func loopbackConfig() Config {
	return Config{
		Baudrate:   500000,
		FilterID:   0x123,
		FilterMask: 0x7FF,
		Mode:       controller.ModeLoopback,
	}
}

// newService brings up a configured service with the interrupt line
// attached to the model.
func newService(t *testing.T, config Config) (*Service, *controller.Controller, *sim.Model) {
	t.Helper()
	model := sim.NewModel(nil)
	ctrl, err := controller.NewController(model, nil)
	assert.Nil(t, err)
	srv, err := NewService(ctrl, nil)
	assert.Nil(t, err)

	assert.Nil(t, srv.Configure(config))
	model.SetInterruptHandler(ctrl.ServiceInterrupt)
	return srv, ctrl, model
}

func TestNewServiceNoController(t *testing.T) {
	_, err := NewService(nil, nil)
	assert.ErrorIs(t, err, flexcan.ErrInvalidParam)
}

func TestConfigureArmsServiceMailboxes(t *testing.T) {
	_, _, model := newService(t, loopbackConfig())

	assert.Equal(t, flexcan.CodeTxInactive, mailbox.Code(model.Load(flexcan.MailboxCS(8))))
	assert.Equal(t, flexcan.CodeRxEmpty, mailbox.Code(model.Load(flexcan.MailboxCS(16))))
	assert.Zero(t, model.Load(flexcan.MailboxCS(17)), "secondary stays unused")

	imask := model.Load(flexcan.RegIMASK1)
	assert.NotZero(t, imask&(1<<8))
	assert.NotZero(t, imask&(1<<16))
	assert.Zero(t, imask&(1<<17))
}

func TestUninitializedOperations(t *testing.T) {
	model := sim.NewModel(nil)
	ctrl, err := controller.NewController(model, nil)
	assert.Nil(t, err)
	srv, err := NewService(ctrl, nil)
	assert.Nil(t, err)

	assert.ErrorIs(t, srv.Send(Message{ID: 1}), flexcan.ErrNotInitialized)
	assert.ErrorIs(t, srv.SendBlocking(Message{ID: 1}, 1), flexcan.ErrNotInitialized)
	_, err = srv.Receive()
	assert.ErrorIs(t, err, flexcan.ErrNotInitialized)
	_, err = srv.ReceiveBlocking(1)
	assert.ErrorIs(t, err, flexcan.ErrNotInitialized)
	assert.ErrorIs(t, srv.RegisterCallback(nil), flexcan.ErrNotInitialized)
	assert.ErrorIs(t, srv.Deinit(), flexcan.ErrNotInitialized)
}

func TestConfigureInfeasibleBaudRate(t *testing.T) {
	model := sim.NewModel(nil)
	ctrl, err := controller.NewController(model, nil)
	assert.Nil(t, err)
	srv, err := NewService(ctrl, nil)
	assert.Nil(t, err)

	// 1 Mbit/s is out of reach for the 4 MHz oscillator feed
	config := loopbackConfig()
	config.Baudrate = 1000000
	assert.ErrorIs(t, srv.Configure(config), flexcan.ErrInvalidParam)
	assert.ErrorIs(t, srv.Send(Message{ID: 1}), flexcan.ErrNotInitialized)
}

func TestSendInvalidLength(t *testing.T) {
	srv, _, _ := newService(t, loopbackConfig())

	err := srv.Send(Message{ID: 0x123, DLC: 9})
	assert.ErrorIs(t, err, flexcan.ErrInvalidParam)
}

func TestLoopbackEcho(t *testing.T) {
	srv, _, _ := newService(t, loopbackConfig())

	rec := &recorder{}
	assert.Nil(t, srv.RegisterCallback(rec.callback))

	sent := Message{ID: 0x123, DLC: 4}
	copy(sent.Data[:], []byte{0xAA, 0xBB, 0xCC, 0xDD})
	assert.Nil(t, srv.Send(sent))

	assert.Equal(t, []Event{EventTxComplete, EventRxComplete}, rec.events)
	assert.Len(t, rec.messages, 1, "only receive events carry a message")
	assert.Equal(t, sent, rec.messages[0])
}

func TestFrameFlagsRoundTrip(t *testing.T) {
	srv, _, _ := newService(t, Config{
		Baudrate:       500000,
		FilterID:       0x18DAF110,
		FilterMask:     0x1FFFFFFF,
		FilterExtended: true,
		Mode:           controller.ModeLoopback,
	})

	rec := &recorder{}
	assert.Nil(t, srv.RegisterCallback(rec.callback))

	sent := Message{ID: 0x18DAF110, DLC: 2, Extended: true, Remote: true}
	assert.Nil(t, srv.Send(sent))

	assert.Len(t, rec.messages, 1)
	assert.True(t, rec.messages[0].Extended)
	assert.True(t, rec.messages[0].Remote)
	assert.Equal(t, uint32(0x18DAF110), rec.messages[0].ID)
}

func TestSecondaryFilter(t *testing.T) {
	srv, _, model := newService(t, Config{
		Baudrate:    500000,
		FilterID:    0x100,
		FilterMask:  0x7FF,
		FilterID2:   0x456,
		FilterMask2: 0x7FF,
	})

	rec := &recorder{}
	assert.Nil(t, srv.RegisterCallback(rec.callback))

	frame, err := flexcan.NewFrame(0x456, flexcan.Standard, flexcan.DataFrame, []byte{7})
	assert.Nil(t, err)
	model.Inject(frame)

	assert.Equal(t, []Event{EventRxComplete}, rec.events)
	assert.Equal(t, uint32(0x456), rec.messages[0].ID)
}

func TestOverrunReportsFault(t *testing.T) {
	model := sim.NewModel(nil)
	ctrl, err := controller.NewController(model, nil)
	assert.Nil(t, err)
	srv, err := NewService(ctrl, nil)
	assert.Nil(t, err)

	config := loopbackConfig()
	config.Mode = controller.ModeNormal
	config.FilterID = 0x100
	assert.Nil(t, srv.Configure(config))

	rec := &recorder{}
	assert.Nil(t, srv.RegisterCallback(rec.callback))

	// two arrivals before the line is attached force the overrun
	frame, err := flexcan.NewFrame(0x100, flexcan.Standard, flexcan.DataFrame, []byte{1})
	assert.Nil(t, err)
	model.Inject(frame)
	model.Inject(frame)
	model.SetInterruptHandler(ctrl.ServiceInterrupt)

	assert.Equal(t, []Event{EventFault}, rec.events)
	assert.Empty(t, rec.messages)
}

func TestPolledReceive(t *testing.T) {
	model := sim.NewModel(nil)
	ctrl, err := controller.NewController(model, nil)
	assert.Nil(t, err)
	srv, err := NewService(ctrl, nil)
	assert.Nil(t, err)

	// interrupt line deliberately left detached, pure polled mode
	assert.Nil(t, srv.Configure(Config{
		Baudrate:   500000,
		FilterID:   0x321,
		FilterMask: 0x7FF,
	}))

	_, err = srv.Receive()
	assert.ErrorIs(t, err, flexcan.ErrNoMessage)

	frame, err := flexcan.NewFrame(0x321, flexcan.Standard, flexcan.DataFrame, []byte{0x5A})
	assert.Nil(t, err)
	model.Inject(frame)

	message, err := srv.Receive()
	assert.Nil(t, err)
	assert.Equal(t, uint32(0x321), message.ID)
	assert.Equal(t, uint8(1), message.DLC)
	assert.Equal(t, uint8(0x5A), message.Data[0])

	_, err = srv.ReceiveBlocking(1)
	assert.ErrorIs(t, err, flexcan.ErrTimeout)

	// without the dispatcher racing for the flag, the blocking send
	// observes its own completion
	assert.Nil(t, srv.SendBlocking(Message{ID: 0x77, DLC: 1}, 5))
}

func TestFaultQuery(t *testing.T) {
	srv, _, model := newService(t, loopbackConfig())

	state, tx, rx := srv.Fault()
	assert.Equal(t, controller.FaultActive, state)
	assert.Zero(t, tx)
	assert.Zero(t, rx)

	model.SetErrorCounters(96, 12)
	model.SetFaultConfinement(1)
	state, tx, rx = srv.Fault()
	assert.Equal(t, controller.FaultPassive, state)
	assert.Equal(t, uint8(96), tx)
	assert.Equal(t, uint8(12), rx)
}

func TestDeinit(t *testing.T) {
	srv, _, model := newService(t, loopbackConfig())

	assert.Nil(t, srv.Deinit())
	assert.NotZero(t, model.Load(flexcan.RegMCR)&flexcan.McrMdis)
	assert.ErrorIs(t, srv.Send(Message{ID: 1}), flexcan.ErrNotInitialized)
	assert.ErrorIs(t, srv.Deinit(), flexcan.ErrNotInitialized)
}

func TestEventDescriptions(t *testing.T) {
	assert.Equal(t, "transmit complete", EventTxComplete.String())
	assert.Equal(t, "receive complete", EventRxComplete.String())
	assert.Equal(t, "bus fault", EventFault.String())
	assert.Equal(t, "unknown", Event(0xFF).String())
}
