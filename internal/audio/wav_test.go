package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteWAVFile_ReadInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0.wav")
	pcm := EncodePCM16(make([]int16, 24000)) // one second at 24kHz

	n, err := WriteWAVFile(path, pcm, Mono16(24000))
	if err != nil {
		t.Fatalf("WriteWAVFile failed: %v", err)
	}
	if n != int64(44+len(pcm)) {
		t.Errorf("Expected %d bytes written, got %d", 44+len(pcm), n)
	}

	info, err := ReadWAVInfo(path)
	if err != nil {
		t.Fatalf("ReadWAVInfo failed: %v", err)
	}
	if info.Format.SampleRate != 24000 || info.Format.Channels != 1 || info.Format.BitsPerSample != 16 {
		t.Errorf("Unexpected format: %+v", info.Format)
	}
	if info.Duration != time.Second {
		t.Errorf("Expected duration 1s, got %v", info.Duration)
	}
}

func TestReadWAVInfo_PlaceholderDataSize(t *testing.T) {
	var buf bytes.Buffer
	pcm := EncodePCM16(make([]int16, 12000))
	if err := EncodeWAV(&buf, pcm, Mono16(24000)); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	// Streaming encoders write 0xFFFFFFFF when the length is unknown
	binary.LittleEndian.PutUint32(raw[40:44], 0xFFFFFFFF)

	info, err := readWAVInfo(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("readWAVInfo failed: %v", err)
	}
	if info.Duration != 500*time.Millisecond {
		t.Errorf("Expected duration 500ms, got %v", info.Duration)
	}
}

func TestReadWAVInfo_NotWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.wav")
	if err := os.WriteFile(path, []byte("OggS not a wav file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadWAVInfo(path); err != ErrNotWAV {
		t.Errorf("Expected ErrNotWAV, got %v", err)
	}
}
