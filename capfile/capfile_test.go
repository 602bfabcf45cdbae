package capfile

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func tcpFrame(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x08, 0x00, 0x27, 0xaa, 0xbb, 0xcc},
		DstMAC:       net.HardwareAddr{0x08, 0x00, 0x27, 0xdd, 0xee, 0xff},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(10, 0, 0, 2),
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 80, SYN: true, Window: 1024}
	tcp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp); err != nil {
		t.Fatalf("failed to serialize frame: %v", err)
	}
	return buf.Bytes()
}

func pcapBytes(t *testing.T) []byte {
	t.Helper()
	var b bytes.Buffer
	w := pcapgo.NewWriter(&b)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}
	frame := tcpFrame(t)
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(1520000000, 0), CaptureLength: len(frame), Length: len(frame)}
	if err := w.WritePacket(ci, frame); err != nil {
		t.Fatal(err)
	}
	return b.Bytes()
}

func pcapngBytes(t *testing.T, packets bool) []byte {
	t.Helper()
	var b bytes.Buffer
	w, err := pcapgo.NewNgWriter(&b, layers.LinkTypeEthernet)
	if err != nil {
		t.Fatal(err)
	}
	if packets {
		frame := tcpFrame(t)
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(1520000000, 0), CaptureLength: len(frame), Length: len(frame)}
		if err := w.WritePacket(ci, frame); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	return b.Bytes()
}

func TestDetect(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want Format
		err  error
	}{
		{"pcap", pcapBytes(t), PCAP, nil},
		{"pcapng", pcapngBytes(t, true), PCAPNG, nil},
		{"empty", nil, Unknown, ErrIncomplete},
		{"short", []byte{0x0a, 0x0d}, Unknown, ErrIncomplete},
		{"text", []byte("hello world"), Unknown, ErrUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Detect(bytes.NewReader(tc.data))
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected error %v, got %v", tc.err, err)
			}
			if got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestProbe(t *testing.T) {
	t.Run("pcapng header without packets", func(t *testing.T) {
		h, err := Probe(bytes.NewReader(pcapngBytes(t, false)))
		if err != nil {
			t.Fatalf("Probe failed: %v", err)
		}
		if h.Format != PCAPNG || h.LinkType != layers.LinkTypeEthernet {
			t.Errorf("unexpected header %+v", h)
		}
	})

	t.Run("pcap", func(t *testing.T) {
		h, err := Probe(bytes.NewReader(pcapBytes(t)))
		if err != nil {
			t.Fatalf("Probe failed: %v", err)
		}
		if h.Format != PCAP || h.LinkType != layers.LinkTypeEthernet {
			t.Errorf("unexpected header %+v", h)
		}
	})

	t.Run("truncated pcapng", func(t *testing.T) {
		data := pcapngBytes(t, false)
		_, err := Probe(bytes.NewReader(data[:20]))
		if !errors.Is(err, ErrIncomplete) {
			t.Errorf("expected ErrIncomplete, got %v", err)
		}
	})

	t.Run("truncated pcap", func(t *testing.T) {
		_, err := Probe(bytes.NewReader(pcapBytes(t)[:10]))
		if !errors.Is(err, ErrIncomplete) {
			t.Errorf("expected ErrIncomplete, got %v", err)
		}
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "trace.pcapng")
		if err := os.WriteFile(path, pcapngBytes(t, true), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := ProbeFile(path); err != nil {
			t.Errorf("ProbeFile failed: %v", err)
		}
		if f, err := DetectFile(path); err != nil || f != PCAPNG {
			t.Errorf("DetectFile = %s, %v", f, err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := ProbeFile(filepath.Join(t.TempDir(), "nope")); !os.IsNotExist(err) {
			t.Errorf("expected not-exist error, got %v", err)
		}
	})
}

func TestCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.pcap")
	dst := filepath.Join(dir, "out.pcap")
	if err := os.WriteFile(src, pcapBytes(t), 0600); err != nil {
		t.Fatal(err)
	}
	stamp := time.Date(2018, 3, 1, 10, 4, 5, 0, time.UTC)
	if err := os.Chtimes(src, stamp, stamp); err != nil {
		t.Fatal(err)
	}

	if err := Copy(src, dst); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	want, _ := os.ReadFile(src)
	got, err := os.ReadFile(dst)
	if err != nil || !bytes.Equal(got, want) {
		t.Errorf("copied content differs: %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 || !info.ModTime().Equal(stamp) {
		t.Errorf("copy should keep mode and mtime, got %v %v", info.Mode(), info.ModTime())
	}

	if err := Copy(filepath.Join(dir, "missing"), dst); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
