package header

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Every DMA page starts with a fixed 64 byte header, two 256-bit words
// emitted by the card ahead of the payload. The fields this engine cares
// about all live in the first 128 bits:
//
//  0                                                                      31
//  |----------------------------------------------------------------------|
//  |                                word 0                                | 32
//  |----------------------------------------------------------------------|
//  |                                word 1                                | 64
//  |----------------------------------------------------------------------|
//  |                 word 2: event size in bits 16-31                     | 96
//  |----------------------------------------------------------------------|
//  |   word 3: link id in bits 0-7, packet counter in bits 8-15           | 128
//  |----------------------------------------------------------------------|
//  |                            payload...                                |
//
// Words are little-endian 32-bit reads at fixed byte offsets.

const (
	// Len is the header length in bytes, two 256-bit words.
	Len = 0x40

	// LenWords is the header length in 256-bit words.
	LenWords = 2
)

var ErrHeaderTooShort = errors.New("header is too short")

// H is a decoded page header.
type H struct {
	LinkID        uint32
	EventSize     uint32
	PacketCounter uint32
}

// Parse decodes the header prefix of a page into h.
func (h *H) Parse(b []byte) error {
	if len(b) < Len {
		return ErrHeaderTooShort
	}

	h.LinkID = LinkID(b)
	h.EventSize = EventSize(b)
	h.PacketCounter = PacketCounter(b)
	return nil
}

func (h *H) String() string {
	return fmt.Sprintf("header(link=%d packet=%d size=%d)", h.LinkID, h.PacketCounter, h.EventSize)
}

// LinkID returns the id of the link the page came in on, bits 0-7 of word 3.
func LinkID(b []byte) uint32 {
	return bits(word(b, 3), 0, 7)
}

// EventSize returns the event size field, bits 16-31 of word 2.
func EventSize(b []byte) uint32 {
	return bits(word(b, 2), 16, 31)
}

// PacketCounter returns the per-link packet counter, bits 8-15 of word 3.
func PacketCounter(b []byte) uint32 {
	return bits(word(b, 3), 8, 15)
}

func word(b []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(b[4*i:])
}

// bits extracts the inclusive bit range [lo, hi] from v.
func bits(v uint32, lo, hi uint) uint32 {
	return (v >> lo) & (1<<(hi-lo+1) - 1)
}
