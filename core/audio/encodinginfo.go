package audio

const (
	// DefaultSampleRate is the rate of every frame sent upstream and the rate
	// assumed for inbound audio that does not declare one.
	DefaultSampleRate = 16000
	DefaultFormat     = "linear16"
	// DefaultOutputSampleRate is the fixed rate of the playback pipeline.
	DefaultOutputSampleRate = 48000
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat), Channels: 1}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
	Channels   int
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

const (
	EncodingLinear16 encodingFormat = "linear16"
	EncodingFloat32  encodingFormat = "float32"
)
