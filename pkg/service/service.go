// Package service wraps a controller behind an application-facing API
// with a flat message type and a reduced three-way event set. The
// service owns one TX mailbox and up to two filtered RX mailboxes;
// applications that need per-mailbox control use pkg/controller directly.
package service

import (
	"fmt"
	"log/slog"
	"sync"

	flexcan "github.com/samsamfire/goflexcan"
	"github.com/samsamfire/goflexcan/pkg/bittiming"
	"github.com/samsamfire/goflexcan/pkg/controller"
)

const (
	txMailbox          = 8
	rxMailboxPrimary   = 16
	rxMailboxSecondary = 17
)

// Message is the application view of a frame.
type Message struct {
	ID       uint32
	Data     [flexcan.MaxDataLength]byte
	DLC      uint8
	Extended bool
	Remote   bool
}

// Event is the simplified event set delivered to the application
// callback. Driver errors, bus off and receive overruns all collapse
// into EventFault; the fault query tells them apart.
type Event uint8

const (
	EventTxComplete Event = iota
	EventRxComplete
	EventFault
)

var eventDescriptions = map[Event]string{
	EventTxComplete: "transmit complete",
	EventRxComplete: "receive complete",
	EventFault:      "bus fault",
}

func (e Event) String() string {
	description, ok := eventDescriptions[e]
	if !ok {
		return "unknown"
	}
	return description
}

// Callback receives service events. The message is non nil only for
// EventRxComplete. It runs in the interrupt context of the underlying
// controller, keep it short and never block.
type Callback func(event Event, message *Message)

// Config collects everything the service needs to bring the bus up.
// A zero FilterID2 leaves the secondary RX mailbox unused; both filters
// share the FilterExtended width.
type Config struct {
	Baudrate       uint32
	FilterID       uint32
	FilterMask     uint32
	FilterExtended bool
	FilterID2      uint32
	FilterMask2    uint32
	Mode           controller.Mode
}

// Service glues a controller to the application message model.
type Service struct {
	logger *slog.Logger
	ctrl   *controller.Controller

	mu          sync.Mutex
	callback    Callback
	initialized bool
}

// NewService wraps the given controller. The controller is configured
// later by [Service.Configure].
func NewService(ctrl *controller.Controller, logger *slog.Logger) (*Service, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("no controller given: %w", flexcan.ErrInvalidParam)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger: logger.With("service", "[CANSRV]"),
		ctrl:   ctrl,
	}, nil
}

// Configure brings the bus up on the oscillator clock and arms the
// service mailboxes: TX on 8, primary RX filter on 16, secondary on 17
// when requested. Loopback mode implies self reception. Any failure
// leaves the service uninitialized.
func (s *Service) Configure(config Config) error {
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()

	err := s.ctrl.Configure(controller.Config{
		Source:        bittiming.SourceOscillator,
		BaudRate:      config.Baudrate,
		Mode:          config.Mode,
		SelfReception: config.Mode == controller.ModeLoopback,
	})
	if err != nil {
		return fmt.Errorf("configure controller: %w", err)
	}

	width := flexcan.Standard
	if config.FilterExtended {
		width = flexcan.Extended
	}
	err = s.ctrl.ConfigRxFilter(rxMailboxPrimary, controller.Filter{
		ID:   config.FilterID,
		Mask: config.FilterMask,
		Type: width,
	})
	if err != nil {
		return fmt.Errorf("primary filter: %w", err)
	}
	if config.FilterID2 != 0 {
		err = s.ctrl.ConfigRxFilter(rxMailboxSecondary, controller.Filter{
			ID:   config.FilterID2,
			Mask: config.FilterMask2,
			Type: width,
		})
		if err != nil {
			return fmt.Errorf("secondary filter: %w", err)
		}
	}
	if err := s.ctrl.ConfigTxMailbox(txMailbox); err != nil {
		return fmt.Errorf("tx mailbox: %w", err)
	}
	s.ctrl.RegisterCallback(s.dispatch)

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	s.logger.Info("configured",
		"baudRate", config.Baudrate,
		"mode", config.Mode.String(),
		"filter", fmt.Sprintf("x%x/x%x", config.FilterID, config.FilterMask),
	)
	return nil
}

// dispatch bridges driver events onto the service callback.
func (s *Service) dispatch(event controller.Event, data controller.EventData) {
	s.mu.Lock()
	callback := s.callback
	s.mu.Unlock()
	if callback == nil {
		return
	}

	switch event {
	case controller.EventTxComplete:
		callback(EventTxComplete, nil)
	case controller.EventRxComplete:
		message := fromFrame(*data.Frame)
		callback(EventRxComplete, &message)
	case controller.EventOverrun, controller.EventError, controller.EventBusOff:
		callback(EventFault, nil)
	}
}

// RegisterCallback installs the application callback, replacing any
// previous one. A nil callback turns delivery off while the driver
// keeps draining events.
func (s *Service) RegisterCallback(callback Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return fmt.Errorf("register callback: %w", flexcan.ErrNotInitialized)
	}
	s.callback = callback
	return nil
}

// Send queues a message on the service TX mailbox without waiting for
// completion.
func (s *Service) Send(message Message) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.ctrl.Send(txMailbox, toFrame(message))
}

// SendBlocking queues a message and polls for completion within the
// iteration budget derived from timeoutMs.
func (s *Service) SendBlocking(message Message, timeoutMs uint32) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.ctrl.SendBlocking(txMailbox, toFrame(message), timeoutMs)
}

// Receive drains the primary RX mailbox without blocking. With the
// interrupt path attached the dispatcher consumes completion flags
// first; polled consumers leave the callback path unwired.
func (s *Service) Receive() (Message, error) {
	if err := s.ready(); err != nil {
		return Message{}, err
	}
	frame, err := s.ctrl.Receive(rxMailboxPrimary)
	if err != nil {
		return Message{}, err
	}
	return fromFrame(frame), nil
}

// ReceiveBlocking waits for a message on the primary RX mailbox within
// the iteration budget derived from timeoutMs.
func (s *Service) ReceiveBlocking(timeoutMs uint32) (Message, error) {
	if err := s.ready(); err != nil {
		return Message{}, err
	}
	frame, err := s.ctrl.ReceiveBlocking(rxMailboxPrimary, timeoutMs)
	if err != nil {
		return Message{}, err
	}
	return fromFrame(frame), nil
}

// Fault reports the fault confinement state and the raw TX and RX
// error counters. Always available, also before configuration.
func (s *Service) Fault() (controller.FaultState, uint8, uint8) {
	state := s.ctrl.Fault()
	tx, rx := s.ctrl.ErrorCounters()
	return state, tx, rx
}

// Deinit detaches the callback and disables the controller.
func (s *Service) Deinit() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("deinit: %w", flexcan.ErrNotInitialized)
	}
	s.initialized = false
	s.callback = nil
	s.mu.Unlock()

	s.ctrl.UnregisterCallback()
	s.ctrl.Deinit()
	return nil
}

func (s *Service) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return fmt.Errorf("service not configured: %w", flexcan.ErrNotInitialized)
	}
	return nil
}

func toFrame(message Message) flexcan.Frame {
	frame := flexcan.Frame{
		ID:     message.ID,
		Length: message.DLC,
		Data:   message.Data,
	}
	if message.Extended {
		frame.Type = flexcan.Extended
	}
	if message.Remote {
		frame.Kind = flexcan.RemoteFrame
	}
	return frame
}

func fromFrame(frame flexcan.Frame) Message {
	return Message{
		ID:       frame.ID,
		Data:     frame.Data,
		DLC:      frame.Length,
		Extended: frame.Type == flexcan.Extended,
		Remote:   frame.Kind == flexcan.RemoteFrame,
	}
}
