package flexcan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFrame(t *testing.T) {
	frame, err := NewFrame(0x123, Standard, DataFrame, []byte{0xAA, 0xBB})
	assert.Nil(t, err)
	assert.Equal(t, uint8(2), frame.Length)
	assert.Equal(t, byte(0xAA), frame.Data[0])
	assert.Equal(t, byte(0xBB), frame.Data[1])

	_, err = NewFrame(0x123, Standard, DataFrame, make([]byte, 9))
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestFrameValidate(t *testing.T) {
	frame := Frame{ID: 0x1FF, Length: 9}
	assert.ErrorIs(t, frame.Validate(), ErrInvalidParam)
	frame.Length = 8
	assert.Nil(t, frame.Validate())
}

func TestMailboxOffsets(t *testing.T) {
	assert.Equal(t, uint32(0x80), MailboxCS(0))
	assert.Equal(t, uint32(0x84), MailboxID(0))
	assert.Equal(t, uint32(0x88), MailboxData(0, 0))
	assert.Equal(t, uint32(0x8C), MailboxData(0, 1))
	assert.Equal(t, uint32(0x100), MailboxCS(8))
	assert.Equal(t, uint32(0x880), MailboxMask(0))
	assert.Equal(t, uint32(0x8FC), MailboxMask(31))
}
