package flexcan

import "fmt"

// IDType selects between the two CAN identifier widths.
type IDType uint8

const (
	Standard IDType = iota // 11 bit identifier
	Extended               // 29 bit identifier
)

// FrameKind selects between data frames and remote requests.
type FrameKind uint8

const (
	DataFrame FrameKind = iota
	RemoteFrame
)

// A CAN frame. Frames are passed by value, a frame has no identity
// beyond its field values.
type Frame struct {
	ID     uint32
	Type   IDType
	Kind   FrameKind
	Length uint8
	Data   [MaxDataLength]byte
}

// NewFrame builds a frame from a payload slice.
func NewFrame(id uint32, idType IDType, kind FrameKind, payload []byte) (Frame, error) {
	if len(payload) > MaxDataLength {
		return Frame{}, fmt.Errorf("payload of %v bytes: %w", len(payload), ErrInvalidParam)
	}
	frame := Frame{
		ID:     id,
		Type:   idType,
		Kind:   kind,
		Length: uint8(len(payload)),
	}
	copy(frame.Data[:], payload)
	return frame, nil
}

// Validate checks the frame against the classic CAN limits. Identifiers
// wider than the selected type are not rejected here, they are truncated
// by the mailbox encoding the same way the controller would truncate
// them.
func (f Frame) Validate() error {
	if f.Length > MaxDataLength {
		return fmt.Errorf("frame length %v: %w", f.Length, ErrInvalidParam)
	}
	return nil
}
