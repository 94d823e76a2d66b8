package dfu

// ValidationRecord is the result of one verify pass over a received image.
// Size is the byte count checked, CalculatedCRC the write-time fingerprint,
// ExpectedCRC the value the session declared.
type ValidationRecord struct {
	Size          uint32
	CalculatedCRC uint16
	ExpectedCRC   uint16
	Valid         bool
}
