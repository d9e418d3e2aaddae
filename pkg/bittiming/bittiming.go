// Package bittiming derives CAN bit timing parameters from a protocol
// engine clock and a target baud rate. It performs no hardware access.
package bittiming

import (
	"fmt"

	flexcan "github.com/samsamfire/goflexcan"
)

// Source selects the clock feeding the controller protocol engine.
type Source uint8

const (
	SourceOscillator Source = iota // divided system oscillator
	SourceBus                      // divided bus clock
)

const defaultClockHz = 40_000_000

// Frequency returns the clock frequency a source supplies, in Hz.
func (s Source) Frequency() uint32 {
	switch s {
	case SourceOscillator:
		return 4_000_000
	case SourceBus:
		return 40_000_000
	default:
		return defaultClockHz
	}
}

// Timing is one bit time decomposition. Segment fields are time quanta
// counts, the prescaler divides the protocol engine clock. The sync
// segment is always one quantum and is not stored.
type Timing struct {
	Prescaler       uint8
	PropSeg         uint8
	PhaseSeg1       uint8
	PhaseSeg2       uint8
	ResyncJumpWidth uint8
}

// Quanta returns the number of time quanta making up the bit.
func (t Timing) Quanta() uint32 {
	return 1 + uint32(t.PropSeg) + uint32(t.PhaseSeg1) + uint32(t.PhaseSeg2)
}

// SamplePoint returns the sample point position as a fraction of the
// bit time.
func (t Timing) SamplePoint() float64 {
	return float64(1+uint32(t.PropSeg)+uint32(t.PhaseSeg1)) / float64(t.Quanta())
}

// BaudRate returns the baud rate the timing produces on the given clock.
func (t Timing) BaudRate(clockHz uint32) uint32 {
	return clockHz / (uint32(t.Prescaler) + 1) / t.Quanta()
}

const maxPrescaler = 255

// Calculate decomposes a bit time for the given clock and baud rate.
// 16 time quanta per bit are preferred, with a fall back to 8 when the
// prescaler would leave its 8 bit range at 16. Segment lengths are fixed
// so the sample point lands at 87.5% of the bit time; callers needing a
// different sample point must extend this function, not patch registers
// afterwards.
func Calculate(clockHz uint32, baudRate uint32) (Timing, error) {
	if clockHz == 0 || baudRate == 0 {
		return Timing{}, fmt.Errorf("clock %v Hz at %v baud: %w", clockHz, baudRate, flexcan.ErrInvalidParam)
	}

	// Unsigned wrap when clock < baud*quanta sends the result far out
	// of range and selects the fall back.
	quanta := uint32(16)
	prescaler := clockHz/(baudRate*quanta) - 1
	if prescaler > maxPrescaler {
		quanta = 8
		prescaler = clockHz/(baudRate*quanta) - 1
		if prescaler > maxPrescaler {
			return Timing{}, fmt.Errorf("no prescaler reaches %v baud from %v Hz: %w", baudRate, clockHz, flexcan.ErrInvalidParam)
		}
	}

	timing := Timing{Prescaler: uint8(prescaler)}
	if quanta == 16 {
		timing.PropSeg = 6
		timing.PhaseSeg1 = 7
		timing.PhaseSeg2 = 2
		timing.ResyncJumpWidth = 1
	} else {
		timing.PropSeg = 3
		timing.PhaseSeg1 = 3
		timing.PhaseSeg2 = 1
		timing.ResyncJumpWidth = 1
	}
	return timing, nil
}
