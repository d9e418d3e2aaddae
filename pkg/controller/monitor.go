package controller

import (
	flexcan "github.com/samsamfire/goflexcan"
)

// FaultState is the fault confinement state of the controller.
type FaultState uint8

const (
	FaultActive FaultState = iota
	FaultPassive
	FaultBusOff
)

var faultDescriptions = map[FaultState]string{
	FaultActive:  "error active",
	FaultPassive: "error passive",
	FaultBusOff:  "bus off",
}

func (f FaultState) String() string {
	description, ok := faultDescriptions[f]
	if !ok {
		return "unknown"
	}
	return description
}

// Fault derives the fault confinement state from the error status
// register. Always available, also before configuration.
func (c *Controller) Fault() FaultState {
	fltConf := (c.regs.Load(flexcan.RegESR1) & flexcan.Esr1FltConfMask) >>
		flexcan.Esr1FltConfShift
	switch fltConf {
	case 0:
		return FaultActive
	case 1:
		return FaultPassive
	default:
		return FaultBusOff
	}
}

// ErrorCounters reads the TX and RX error counters. Plain diagnostics,
// reading has no side effects.
func (c *Controller) ErrorCounters() (tx uint8, rx uint8) {
	ecr := c.regs.Load(flexcan.RegECR)
	return uint8(ecr >> 8), uint8(ecr)
}
