package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrNotWAV is returned when a file lacks a RIFF/WAVE header
var ErrNotWAV = errors.New("not a RIFF/WAVE file")

// Format describes a PCM WAV stream
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Mono16 is mono 16-bit PCM at the given rate
func Mono16(sampleRate int) Format {
	return Format{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16}
}

func (f Format) byteRate() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// EncodeWAV writes a canonical 44-byte header followed by pcm
func EncodeWAV(w io.Writer, pcm []byte, f Format) error {
	var hdr bytes.Buffer
	hdr.WriteString("RIFF")
	binary.Write(&hdr, binary.LittleEndian, uint32(36+len(pcm)))
	hdr.WriteString("WAVEfmt ")
	binary.Write(&hdr, binary.LittleEndian, uint32(16))
	binary.Write(&hdr, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&hdr, binary.LittleEndian, uint16(f.Channels))
	binary.Write(&hdr, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(&hdr, binary.LittleEndian, uint32(f.byteRate()))
	binary.Write(&hdr, binary.LittleEndian, uint16(f.Channels*f.BitsPerSample/8))
	binary.Write(&hdr, binary.LittleEndian, uint16(f.BitsPerSample))
	hdr.WriteString("data")
	binary.Write(&hdr, binary.LittleEndian, uint32(len(pcm)))

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// WriteWAVFile writes pcm to path as a WAV file. A partially written file is removed.
func WriteWAVFile(path string, pcm []byte, f Format) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	if err := EncodeWAV(file, pcm, f); err != nil {
		file.Close()
		os.Remove(path)
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return 0, err
	}
	return int64(44 + len(pcm)), nil
}

// Info is what ReadWAVInfo learns from a header
type Info struct {
	Format   Format
	DataSize int64
	Duration time.Duration
}

// ReadWAVInfo walks the RIFF chunks of a WAV file and reports its format and duration
func ReadWAVInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, err
	}
	return readWAVInfo(f, st.Size())
}

// readWAVInfo parses a header from r. total is the stream size, used when a
// streaming encoder left the data size as a placeholder.
func readWAVInfo(r io.Reader, total int64) (Info, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Info{}, ErrNotWAV
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Info{}, ErrNotWAV
	}

	var info Info
	haveFmt := false
	offset := int64(12)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return Info{}, fmt.Errorf("wav: missing data chunk: %w", err)
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))
		offset += 8

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil || size < 16 {
				return Info{}, fmt.Errorf("wav: short fmt chunk")
			}
			info.Format = Format{
				Channels:      int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
			}
			haveFmt = true
			offset += size
		case "data":
			if !haveFmt {
				return Info{}, fmt.Errorf("wav: data chunk before fmt chunk")
			}
			if remaining := total - offset; total > 0 && (size == 0 || size == 0xFFFFFFFF || size > remaining) {
				size = remaining
			}
			info.DataSize = size
			if br := info.Format.byteRate(); br > 0 {
				info.Duration = time.Duration(size * int64(time.Second) / int64(br))
			}
			return info, nil
		default:
			// Chunks are word aligned
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return Info{}, fmt.Errorf("wav: truncated %q chunk", id)
			}
			offset += size + size%2
		}
	}
}
