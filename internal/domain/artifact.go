package domain

// Artifact is a finalized audio recording. It is immutable once produced.
type Artifact struct {
	data          []byte
	FileName      string
	ContentType   string
	BytesCaptured int64
	Device        string
}

// NewArtifact copies data so later mutation by the caller cannot leak in.
func NewArtifact(data []byte, bytesCaptured int64, device string) Artifact {
	return Artifact{
		data:          append([]byte(nil), data...),
		FileName:      "recording.wav",
		ContentType:   "audio/wav",
		BytesCaptured: bytesCaptured,
		Device:        device,
	}
}

// Bytes returns a copy of the encoded audio.
func (a Artifact) Bytes() []byte {
	return append([]byte(nil), a.data...)
}

// Size returns the encoded length in bytes.
func (a Artifact) Size() int {
	return len(a.data)
}

// Empty reports whether no audio was captured.
func (a Artifact) Empty() bool {
	return a.BytesCaptured <= 0 || len(a.data) == 0
}
