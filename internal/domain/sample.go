package domain

// Channel identifies one of the four parallel numeric vectors of a keystroke sample.
type Channel int

const (
	ChannelCharCode Channel = iota
	ChannelSeekTime
	ChannelPressTime
	ChannelKeyCode
)

// NumChannels is the number of timing/identity channels per sample.
const NumChannels = 4

// Channels lists all channels in wire order.
var Channels = [NumChannels]Channel{ChannelCharCode, ChannelSeekTime, ChannelPressTime, ChannelKeyCode}

// String returns the channel name used in logs and JSON.
func (c Channel) String() string {
	switch c {
	case ChannelCharCode:
		return "char_code"
	case ChannelSeekTime:
		return "seek_time"
	case ChannelPressTime:
		return "press_time"
	case ChannelKeyCode:
		return "key_code"
	default:
		return "unknown"
	}
}

// KeystrokeSample is one typing attempt decomposed into per-keystroke channels.
// All channel vectors have the same length K.
type KeystrokeSample struct {
	// Device holds the raw device-info fields, preserved in wire order.
	Device []string `json:"device"`

	CharCode  []float64 `json:"charCode"`
	SeekTime  []float64 `json:"seekTime"`
	PressTime []float64 `json:"pressTime"`
	KeyCode   []float64 `json:"keyCode"`
}

// Len returns the keystroke count K.
func (s *KeystrokeSample) Len() int {
	return len(s.CharCode)
}

// Vector returns the sample's vector for a channel.
func (s *KeystrokeSample) Vector(c Channel) []float64 {
	switch c {
	case ChannelCharCode:
		return s.CharCode
	case ChannelSeekTime:
		return s.SeekTime
	case ChannelPressTime:
		return s.PressTime
	case ChannelKeyCode:
		return s.KeyCode
	default:
		return nil
	}
}

// DeviceFingerprint is the device and password context of a sample.
type DeviceFingerprint struct {
	IsMobile       bool   `json:"isMobile"`
	InputType      int    `json:"inputType"`
	PasswordLength int    `json:"passwordLength"`
	PasswordHash   string `json:"passwordHash"`
}
