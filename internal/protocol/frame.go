package protocol

import "fmt"

const (
	FrameSize  = 13
	DataLength = 8

	startByte = 0xA5
)

// Host address placed in every request frame.
type Address byte

const (
	HostRS485     Address = 0x40 // USB / RS485 dongle
	HostBluetooth Address = 0x80
)

func (a Address) String() string {
	switch a {
	case HostRS485:
		return "rs485"
	case HostBluetooth:
		return "bluetooth"
	default:
		return fmt.Sprintf("0x%02X", byte(a))
	}
}

// Frame is one decoded 13-byte unit: a5 | address | command | 08 | data[8] | checksum
type Frame struct {
	Address Address
	Command Command
	Payload [DataLength]byte
}

// Checksum sums all bytes and returns the low byte of the sum.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Encode builds a request frame. The payload is zero padded to DataLength,
// anything past DataLength is dropped.
func Encode(addr Address, cmd Command, payload []byte) []byte {
	b := make([]byte, FrameSize)
	b[0] = startByte
	b[1] = byte(addr)
	b[2] = byte(cmd)
	b[3] = DataLength
	copy(b[4:4+DataLength], payload)
	b[FrameSize-1] = Checksum(b[:FrameSize-1])
	return b
}

// Decode validates and unpacks a single frame.
func Decode(b []byte) (Frame, error) {
	var f Frame
	if len(b) != FrameSize {
		return f, &FrameError{Reason: ReasonLength, Raw: b}
	}
	if b[0] != startByte || b[3] != DataLength {
		return f, &FrameError{Reason: ReasonHeader, Raw: b}
	}
	if sum := Checksum(b[:FrameSize-1]); sum != b[FrameSize-1] {
		return f, &FrameError{Reason: ReasonChecksum, Raw: b}
	}

	f.Address = Address(b[1])
	f.Command = Command(b[2])
	copy(f.Payload[:], b[4:4+DataLength])
	return f, nil
}

// DecodeAll splits buf into consecutive frames and decodes each of them.
func DecodeAll(buf []byte) ([]Frame, error) {
	if len(buf) == 0 || len(buf)%FrameSize != 0 {
		return nil, &FrameError{Reason: ReasonLength, Raw: buf}
	}
	frames := make([]Frame, 0, len(buf)/FrameSize)
	for off := 0; off < len(buf); off += FrameSize {
		f, err := Decode(buf[off : off+FrameSize])
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}
