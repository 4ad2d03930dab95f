package ut330

import "github.com/sigurn/crc16"

// crcTable is the Modbus CRC16 lookup table (reflected poly 0xA001,
// init 0xFFFF). Built once, read-only afterwards.
var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC16 returns the Modbus CRC16 of data split into its high and low bytes.
// On the wire the low byte goes first.
func CRC16(data []byte) (hi, lo byte) {
	sum := crc16.Checksum(data, crcTable)
	return byte(sum >> 8), byte(sum)
}

// appendCRC appends the CRC of frame to it, low byte first.
func appendCRC(frame []byte) []byte {
	hi, lo := CRC16(frame)
	return append(frame, lo, hi)
}

// validCRC reports whether the last two bytes of frame are the CRC of the rest.
func validCRC(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	n := len(frame) - 2
	hi, lo := CRC16(frame[:n])
	return frame[n] == lo && frame[n+1] == hi
}
