package stt

import "encoding/binary"

// WAV format tags for the encodings we submit.
const (
	wavFormatPCM  = 0x0001
	wavFormatULaw = 0x0007
)

// wrapWAV prepends a canonical 44-byte RIFF header so providers that only
// accept container formats can ingest raw telephony audio. Mu-law and PCM16
// both fit the plain fmt chunk.
func wrapWAV(audio Audio) []byte {
	var formatTag uint16
	var bitsPerSample uint16
	switch audio.Encoding {
	case EncodingMuLaw:
		formatTag = wavFormatULaw
		bitsPerSample = 8
	default:
		formatTag = wavFormatPCM
		bitsPerSample = 16
	}

	channels := uint16(audio.Channels)
	if channels == 0 {
		channels = 1
	}
	sampleRate := uint32(audio.SampleRate)
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * uint32(blockAlign)
	dataLen := uint32(len(audio.Data))

	buf := make([]byte, 44+len(audio.Data))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataLen)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatTag)
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], byteRate)
	binary.LittleEndian.PutUint16(buf[32:34], blockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataLen)
	copy(buf[44:], audio.Data)

	return buf
}
