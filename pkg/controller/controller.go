// Package controller implements the register level driver for one
// controller instance: the freeze mode configuration sequencer, the
// synchronous send and receive primitives, acceptance filter setup, the
// interrupt dispatcher with its event model and the fault monitor.
package controller

import (
	"fmt"
	"log/slog"
	"sync"

	flexcan "github.com/samsamfire/goflexcan"
	"github.com/samsamfire/goflexcan/internal/spin"
	"github.com/samsamfire/goflexcan/pkg/bittiming"
	"github.com/samsamfire/goflexcan/pkg/mailbox"
)

// Poll budget of each freeze handshake phase, counted in iterations.
const freezeBudget = 10000

// Mode selects how the controller couples to the bus.
type Mode uint8

const (
	ModeNormal Mode = iota
	ModeLoopback
	ModeListenOnly
)

var modeDescriptions = map[Mode]string{
	ModeNormal:     "normal",
	ModeLoopback:   "loopback",
	ModeListenOnly: "listen only",
}

func (m Mode) String() string {
	description, ok := modeDescriptions[m]
	if !ok {
		return "unknown"
	}
	return description
}

// Config collects everything Configure writes while the controller is
// halted. ClockHz overrides the source frequency when non zero.
type Config struct {
	Source                bittiming.Source
	ClockHz               uint32
	BaudRate              uint32
	Mode                  Mode
	SelfReception         bool
	UseRxFifo             bool
	EnableErrorInterrupts bool
}

// Controller drives one controller instance through its register
// block. The zero value is not usable, create instances with
// NewController and bring them up with Configure.
type Controller struct {
	logger *slog.Logger
	regs   flexcan.RegisterBlock

	mu          sync.Mutex
	callback    Callback
	initialized bool
	mode        Mode
}

// NewController creates a driver over the given register block. A nil
// logger falls back to the default logger.
func NewController(regs flexcan.RegisterBlock, logger *slog.Logger) (*Controller, error) {
	if regs == nil {
		return nil, fmt.Errorf("no register block: %w", flexcan.ErrInvalidParam)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		logger: logger.With("service", "[CAN]"),
		regs:   regs,
	}, nil
}

// Configure runs the full bring up sequence: clock selection, freeze
// entry, soft reset, register configuration and freeze exit. Any
// failure leaves the instance uninitialized, there is no partial
// success state.
func (c *Controller) Configure(config Config) error {
	clockHz := config.ClockHz
	if clockHz == 0 {
		clockHz = config.Source.Frequency()
	}
	timing, err := bittiming.Calculate(clockHz, config.BaudRate)
	if err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	c.mu.Lock()
	c.initialized = false
	c.mode = config.Mode
	c.mu.Unlock()

	c.enableClock(config.Source)

	if err := c.enterFreeze(); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	if err := c.softReset(); err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	c.writeConfig(config, timing)

	if err := c.exitFreeze(); err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	c.logger.Info("controller configured",
		"clockHz", clockHz,
		"baudRate", config.BaudRate,
		"mode", config.Mode,
		"prescaler", timing.Prescaler,
		"samplePoint", timing.SamplePoint(),
	)
	return nil
}

// Deinit disables the module. Pending transfers are dropped and the
// instance must be configured again before use.
func (c *Controller) Deinit() {
	mcr := c.regs.Load(flexcan.RegMCR)
	c.regs.Store(flexcan.RegMCR, mcr|flexcan.McrMdis)

	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
	c.logger.Info("controller deinitialized")
}

// Mode returns the operating mode of the last configuration.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return flexcan.ErrNotInitialized
	}
	return nil
}

// enableClock selects the protocol engine clock. The source bit is only
// writable while the module is disabled, so the module is bounced
// through the disabled state around the write.
func (c *Controller) enableClock(source bittiming.Source) {
	mcr := c.regs.Load(flexcan.RegMCR)
	c.regs.Store(flexcan.RegMCR, mcr|flexcan.McrMdis)

	ctrl1 := c.regs.Load(flexcan.RegCTRL1)
	if source == bittiming.SourceOscillator {
		ctrl1 &^= flexcan.Ctrl1ClkSrc
	} else {
		ctrl1 |= flexcan.Ctrl1ClkSrc
	}
	c.regs.Store(flexcan.RegCTRL1, ctrl1)

	mcr = c.regs.Load(flexcan.RegMCR)
	c.regs.Store(flexcan.RegMCR, mcr&^flexcan.McrMdis)
}

func (c *Controller) enterFreeze() error {
	mcr := c.regs.Load(flexcan.RegMCR)
	c.regs.Store(flexcan.RegMCR, mcr|flexcan.McrFrz|flexcan.McrHalt)

	acked := spin.Until(freezeBudget, func() bool {
		return c.regs.Load(flexcan.RegMCR)&flexcan.McrFrzAck != 0
	})
	if !acked {
		return fmt.Errorf("freeze entry not acknowledged: %w", flexcan.ErrTimeout)
	}
	return nil
}

func (c *Controller) softReset() error {
	mcr := c.regs.Load(flexcan.RegMCR)
	c.regs.Store(flexcan.RegMCR, mcr|flexcan.McrSoftRst)

	cleared := spin.Until(freezeBudget, func() bool {
		return c.regs.Load(flexcan.RegMCR)&flexcan.McrSoftRst == 0
	})
	if !cleared {
		return fmt.Errorf("soft reset did not clear: %w", flexcan.ErrTimeout)
	}
	return nil
}

func (c *Controller) exitFreeze() error {
	mcr := c.regs.Load(flexcan.RegMCR)
	c.regs.Store(flexcan.RegMCR, mcr&^(flexcan.McrFrz|flexcan.McrHalt))

	acked := spin.Until(freezeBudget, func() bool {
		return c.regs.Load(flexcan.RegMCR)&flexcan.McrFrzAck == 0
	})
	if !acked {
		return fmt.Errorf("freeze exit not acknowledged: %w", flexcan.ErrTimeout)
	}
	running := spin.Until(freezeBudget, func() bool {
		return c.regs.Load(flexcan.RegMCR)&flexcan.McrNotRdy == 0
	})
	if !running {
		return fmt.Errorf("module not ready: %w", flexcan.ErrTimeout)
	}
	return nil
}

// writeConfig programs the controller between the soft reset and the
// freeze exit, while it is guaranteed halted.
func (c *Controller) writeConfig(config Config, timing bittiming.Timing) {
	ctrl1 := uint32(timing.Prescaler)<<flexcan.Ctrl1PresDivShift |
		uint32(timing.ResyncJumpWidth)<<flexcan.Ctrl1RjwShift |
		uint32(timing.PhaseSeg1)<<flexcan.Ctrl1PSeg1Shift |
		uint32(timing.PhaseSeg2)<<flexcan.Ctrl1PSeg2Shift |
		uint32(timing.PropSeg)<<flexcan.Ctrl1PropSegShift |
		flexcan.Ctrl1Smp
	switch config.Mode {
	case ModeLoopback:
		ctrl1 |= flexcan.Ctrl1Lpb
	case ModeListenOnly:
		ctrl1 |= flexcan.Ctrl1Lom
	}
	if config.EnableErrorInterrupts {
		ctrl1 |= flexcan.Ctrl1BoffMsk | flexcan.Ctrl1ErrMsk
	}
	c.regs.Store(flexcan.RegCTRL1, ctrl1)

	mcr := c.regs.Load(flexcan.RegMCR)
	if config.SelfReception {
		mcr &^= flexcan.McrSrxDis
	} else {
		mcr |= flexcan.McrSrxDis
	}
	if config.UseRxFifo {
		mcr |= flexcan.McrRfen
	} else {
		mcr &^= flexcan.McrRfen
	}
	mcr = mcr&^flexcan.McrMaxMbMask | (flexcan.NumMailboxes - 1)
	c.regs.Store(flexcan.RegMCR, mcr)

	mailbox.ClearAll(c.regs)
	mailbox.ResetMasks(c.regs)
	c.regs.Store(flexcan.RegIFLAG1, 0xFFFFFFFF)
	c.regs.Store(flexcan.RegRXMGMASK, flexcan.GlobalAcceptAll)
	c.regs.Store(flexcan.RegECR, 0)
}
