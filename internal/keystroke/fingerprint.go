package keystroke

import (
	"strconv"

	"github.com/opensource-finance/cadence/internal/domain"
)

// Fingerprint extracts the device and password context from a parsed sample.
// Device fields 1 and 2 are carried on the wire but not used here.
func Fingerprint(s *domain.KeystrokeSample) domain.DeviceFingerprint {
	var fp domain.DeviceFingerprint
	if s == nil || len(s.Device) < minDeviceFields {
		return fp
	}

	fp.IsMobile = deviceInt(s.Device[deviceIsMobile]) == 1
	fp.InputType = deviceInt(s.Device[deviceInputType])
	fp.PasswordLength = deviceInt(s.Device[devicePasswordLength])
	fp.PasswordHash = s.Device[devicePasswordHash]
	return fp
}

// deviceInt reads an already validated numeric device field.
func deviceInt(field string) int {
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0
	}
	return int(v)
}
