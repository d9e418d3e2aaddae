package flexcan

// Register byte offsets of the controller block.
const (
	RegMCR      uint32 = 0x00
	RegCTRL1    uint32 = 0x04
	RegTIMER    uint32 = 0x08
	RegRXMGMASK uint32 = 0x10
	RegECR      uint32 = 0x1C
	RegESR1     uint32 = 0x20
	RegIMASK1   uint32 = 0x28
	RegIFLAG1   uint32 = 0x30
	RegRAM      uint32 = 0x80  // 32 mailboxes, 4 words each
	RegRXIMR    uint32 = 0x880 // 32 individual RX mask registers
)

// MCR bits.
const (
	McrMdis     uint32 = 0x80000000 // module disable
	McrFrz      uint32 = 0x40000000 // freeze enable
	McrRfen     uint32 = 0x20000000 // RX FIFO enable
	McrHalt     uint32 = 0x10000000 // halt request
	McrNotRdy   uint32 = 0x08000000 // module not ready
	McrSoftRst  uint32 = 0x02000000 // soft reset, self clearing
	McrFrzAck   uint32 = 0x01000000 // freeze mode acknowledge
	McrSrxDis   uint32 = 0x00020000 // self reception disable
	McrMaxMbMask uint32 = 0x0000007F
)

// CTRL1 bits and timing field positions.
const (
	Ctrl1PresDivShift        = 24
	Ctrl1RjwShift            = 22
	Ctrl1PSeg1Shift          = 19
	Ctrl1PSeg2Shift          = 16
	Ctrl1BoffMsk      uint32 = 0x00008000 // bus off interrupt mask
	Ctrl1ErrMsk       uint32 = 0x00004000 // error interrupt mask
	Ctrl1ClkSrc       uint32 = 0x00002000 // protocol engine clock select
	Ctrl1Lpb          uint32 = 0x00001000 // loopback
	Ctrl1Smp          uint32 = 0x00000080 // triple sampling
	Ctrl1Lom          uint32 = 0x00000008 // listen only
	Ctrl1PropSegShift        = 0
)

// ESR1 bits.
const (
	Esr1FltConfShift        = 4
	Esr1FltConfMask  uint32 = 0x30
	Esr1BoffInt      uint32 = 0x04 // bus off interrupt, write 1 to clear
	Esr1ErrInt       uint32 = 0x02 // error interrupt, write 1 to clear
)

// Mailbox control/status word fields.
const (
	CsCodeShift            = 24
	CsCodeMask      uint32 = 0x0F000000
	CsSrr           uint32 = 0x00400000
	CsIde           uint32 = 0x00200000
	CsRtr           uint32 = 0x00100000
	CsDlcShift             = 16
	CsDlcMask       uint32 = 0x000F0000
	CsTimestampMask uint32 = 0x0000FFFF
)

// Mailbox codes. TX and RX mailboxes use disjoint code spaces.
const (
	CodeTxInactive uint32 = 0x8
	CodeTxAbort    uint32 = 0x9
	CodeTxData     uint32 = 0xC // RTR bit selects data or remote
	CodeTxTanswer  uint32 = 0xE

	CodeRxInactive uint32 = 0x0
	CodeRxBusy     uint32 = 0x1
	CodeRxFull     uint32 = 0x2
	CodeRxEmpty    uint32 = 0x4
	CodeRxOverrun  uint32 = 0x6
	CodeRxRanswer  uint32 = 0xA
)

// Mailbox identifier word fields.
const (
	IdStdShift        = 18
	IdStdMask  uint32 = 0x1FFC0000
	IdExtMask  uint32 = 0x1FFFFFFF
)

// ExactMatchMask makes every identifier bit participate in acceptance
// filtering when written to a mask register. It is the strict posture
// buffers are left in until a filter is configured.
const ExactMatchMask uint32 = 0xFFFFFFFF

// GlobalAcceptAll is the reset value programmed into RXMGMASK.
const GlobalAcceptAll uint32 = 0x1FFFFFFF
