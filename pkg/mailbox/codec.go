package mailbox

import flexcan "github.com/samsamfire/goflexcan"

// Code extracts the buffer code from a CS word.
func Code(cs uint32) uint32 {
	return (cs & flexcan.CsCodeMask) >> flexcan.CsCodeShift
}

// DLC extracts the data length from a CS word, clamped to the classic
// CAN payload limit.
func DLC(cs uint32) uint8 {
	dlc := uint8((cs & flexcan.CsDlcMask) >> flexcan.CsDlcShift)
	if dlc > flexcan.MaxDataLength {
		return flexcan.MaxDataLength
	}
	return dlc
}

// IsBusyCode reports whether a buffer code marks an occupied buffer.
func IsBusyCode(code uint32) bool {
	return code != flexcan.CodeTxInactive && code != flexcan.CodeRxInactive
}

// EncodeTxCS builds the CS word arming a transmission of frame. The SRR
// bit is set for standard identifiers, matching the controller this
// layout was lifted from.
func EncodeTxCS(frame flexcan.Frame) uint32 {
	cs := flexcan.CodeTxData<<flexcan.CsCodeShift |
		uint32(frame.Length)<<flexcan.CsDlcShift
	if frame.Type == flexcan.Extended {
		cs |= flexcan.CsIde
	} else {
		cs |= flexcan.CsSrr
	}
	if frame.Kind == flexcan.RemoteFrame {
		cs |= flexcan.CsRtr
	}
	return cs
}

// EncodeID builds an identifier word. Identifiers wider than the
// selected type are truncated by the field mask.
func EncodeID(id uint32, idType flexcan.IDType) uint32 {
	if idType == flexcan.Extended {
		return id & flexcan.IdExtMask
	}
	return (id << flexcan.IdStdShift) & flexcan.IdStdMask
}

// DecodeID splits an identifier word using the width bit of the
// matching CS word.
func DecodeID(idWord uint32, cs uint32) (uint32, flexcan.IDType) {
	if cs&flexcan.CsIde != 0 {
		return idWord & flexcan.IdExtMask, flexcan.Extended
	}
	return (idWord & flexcan.IdStdMask) >> flexcan.IdStdShift, flexcan.Standard
}

var codeDescriptions = map[uint32]string{
	flexcan.CodeTxInactive: "tx inactive",
	flexcan.CodeTxAbort:    "tx abort",
	flexcan.CodeTxData:     "tx pending",
	flexcan.CodeTxTanswer:  "tx answer",
	flexcan.CodeRxInactive: "rx inactive",
	flexcan.CodeRxBusy:     "rx busy",
	flexcan.CodeRxFull:     "rx full",
	flexcan.CodeRxEmpty:    "rx empty",
	flexcan.CodeRxOverrun:  "rx overrun",
	flexcan.CodeRxRanswer:  "rx answer",
}

// CodeDescription returns a readable name for a buffer code.
func CodeDescription(code uint32) string {
	description, ok := codeDescriptions[code]
	if !ok {
		return "unknown"
	}
	return description
}

// PackPayload maps payload bytes onto the two data words, big endian:
// byte 0 is the top byte of word 0.
func PackPayload(data [flexcan.MaxDataLength]byte) (uint32, uint32) {
	word0 := uint32(data[0])<<24 | uint32(data[1])<<16 |
		uint32(data[2])<<8 | uint32(data[3])
	word1 := uint32(data[4])<<24 | uint32(data[5])<<16 |
		uint32(data[6])<<8 | uint32(data[7])
	return word0, word1
}

// UnpackPayload is the inverse of PackPayload.
func UnpackPayload(word0 uint32, word1 uint32) [flexcan.MaxDataLength]byte {
	return [flexcan.MaxDataLength]byte{
		byte(word0 >> 24), byte(word0 >> 16), byte(word0 >> 8), byte(word0),
		byte(word1 >> 24), byte(word1 >> 16), byte(word1 >> 8), byte(word1),
	}
}
