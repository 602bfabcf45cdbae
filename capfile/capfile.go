// Package capfile recognises capture files and checks whether their header
// has been written yet.
package capfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

type Format int

const (
	Unknown Format = iota
	PCAP
	PCAPNG
)

// String returns the format name understood by editcap -F.
func (f Format) String() string {
	switch f {
	case PCAP:
		return "pcap"
	case PCAPNG:
		return "pcapng"
	default:
		return "unknown"
	}
}

const ngMagic uint32 = 0x0A0D0D0A

var pcapMagics = map[uint32]bool{
	0xa1b2c3d4: true, // microseconds
	0xa1b23c4d: true, // nanoseconds
	0xd4c3b2a1: true,
	0x4d3cb2a1: true,
}

var (
	// ErrIncomplete means the file is shorter than its header.
	ErrIncomplete = errors.New("capture header incomplete")
	ErrUnknown    = errors.New("not a pcap or pcapng file")
)

// Detect looks at the first four bytes of r.
func Detect(r io.Reader) (Format, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Unknown, ErrIncomplete
		}
		return Unknown, err
	}
	return formatOf(magic[:])
}

func formatOf(magic []byte) (Format, error) {
	// The section header block type is a palindrome, byte order does not matter.
	if binary.LittleEndian.Uint32(magic) == ngMagic {
		return PCAPNG, nil
	}
	if pcapMagics[binary.LittleEndian.Uint32(magic)] {
		return PCAP, nil
	}
	return Unknown, ErrUnknown
}

// DetectFile opens path and detects its format.
func DetectFile(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Unknown, err
	}
	defer f.Close()
	return Detect(f)
}

// Header is what a capture file declares before its first packet.
type Header struct {
	Format   Format
	LinkType layers.LinkType
}

// Probe parses the file header of r: the global header of a pcap file, or
// the section header and first interface block of a pcapng file.
func Probe(r io.Reader) (Header, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return Header{}, ErrIncomplete
	}
	format, err := formatOf(magic)
	if err != nil {
		return Header{}, err
	}

	h := Header{Format: format}
	switch format {
	case PCAPNG:
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return h, headerError(err)
		}
		h.LinkType = ng.LinkType()
	case PCAP:
		p, err := pcapgo.NewReader(br)
		if err != nil {
			return h, headerError(err)
		}
		h.LinkType = p.LinkType()
	}
	return h, nil
}

// ProbeFile runs Probe on the file at path.
func ProbeFile(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	return Probe(f)
}

func headerError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrIncomplete
	}
	return fmt.Errorf("invalid capture header: %w", err)
}

// Copy copies the capture at src to dst with the same permissions and
// modification time.
func Copy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
