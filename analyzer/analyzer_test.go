package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tracekit/tracekit/runner"
)

const convBanner = `================================================================================
TCP Conversations
Filter:<No Filter>
                                               |       <-      | |       ->      | |     Total     |    Relative    |   Duration   |
                                               | Frames  Bytes | | Frames  Bytes | | Frames  Bytes |      Start     |              |
`

const convRule = "================================================================================\n"

func convOutput(rows ...string) []byte {
	return []byte(convBanner + strings.Join(rows, "") + convRule)
}

func TestParseConversations(t *testing.T) {
	t.Run("single row with duration", func(t *testing.T) {
		out := convOutput("10.0.0.1:443               <-> 10.0.0.2:5555             5       500       6       600      11      1100     0.000000000         1.2345\n")
		convs, err := ParseConversations(out)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		d := 1.2345
		want := []Conversation{{
			AddressA: "10.0.0.1", PortA: 443, AddressB: "10.0.0.2", PortB: 5555,
			FramesBA: 5, BytesBA: 500, FramesAB: 6, BytesAB: 600,
			Frames: 11, Bytes: 1100, RelativeStart: 0, Duration: &d,
		}}
		if diff := cmp.Diff(want, convs); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("decimal comma and no duration", func(t *testing.T) {
		out := convOutput("192.168.1.5:22 <-> 192.168.1.9:40000 1 60 2 120 3 180 2,500000\n")
		convs, err := ParseConversations(out)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(convs) != 1 {
			t.Fatalf("expected 1 conversation, got %d", len(convs))
		}
		if convs[0].RelativeStart != 2.5 {
			t.Errorf("RelativeStart = %v, want 2.5", convs[0].RelativeStart)
		}
		if convs[0].Duration != nil {
			t.Errorf("Duration should be absent")
		}
	})

	t.Run("N rows yield N records", func(t *testing.T) {
		for n := 0; n <= 4; n++ {
			var rows []string
			for i := 0; i < n; i++ {
				rows = append(rows, fmt.Sprintf("10.0.0.%d:%d <-> 10.0.1.1:80 %d 100 1 50 2 150 0.%d 1.0\n", i+1, 1000+i, i, i))
			}
			convs, err := ParseConversations(convOutput(rows...))
			if err != nil {
				t.Fatalf("n=%d: unexpected error: %v", n, err)
			}
			if len(convs) != n {
				t.Errorf("n=%d: got %d records", n, len(convs))
			}
			for i, c := range convs {
				if c.PortA != 1000+i || c.FramesBA != int64(i) {
					t.Errorf("n=%d: record %d misaligned: %+v", n, i, c)
				}
			}
		}
	})

	t.Run("empty output", func(t *testing.T) {
		convs, err := ParseConversations(nil)
		if err != nil || convs == nil || len(convs) != 0 {
			t.Errorf("expected empty non-nil slice, got %v, %v", convs, err)
		}
	})

	t.Run("schema violations", func(t *testing.T) {
		cases := map[string]string{
			"too few fields":    "10.0.0.1:443 <-> 10.0.0.2:80 1 2 3\n",
			"too many fields":   "10.0.0.1:443 <-> 10.0.0.2:80 1 2 3 4 5 6 0.1 0.2 extra\n",
			"ipv6 endpoints":    "fe80::1:443 <-> fe80::2:80 1 60 1 60 2 120 0.0 1.0\n",
			"non-numeric count": "10.0.0.1:443 <-> 10.0.0.2:80 1 60 bytes 60 2 120 0.0 1.0\n",
		}
		for name, row := range cases {
			_, err := ParseConversations(convOutput(row))
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Errorf("%s: expected ParseError, got %v", name, err)
				continue
			}
			if perr.Line != conversationHeader+1 {
				t.Errorf("%s: line = %d", name, perr.Line)
			}
		}
	})
}

func TestParseProperties(t *testing.T) {
	out := []byte(`File name:           /tmp/trace.pcapng
File type:           Wireshark/... - pcapng
Number of packets:   42
First packet time:   2018-03-01 10:00:00.000000
Number of packets:   43
`)
	props, err := ParseProperties(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Properties{
		"File name":         "/tmp/trace.pcapng",
		"File type":         "Wireshark/... - pcapng",
		"Number of packets": "43",
		"First packet time": "2018-03-01 10:00:00.000000",
	}
	if diff := cmp.Diff(want, props); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if props, err := ParseProperties([]byte("no separator here")); err != nil || len(props) != 0 {
		t.Errorf("line without separator should be skipped, got %v, %v", props, err)
	}

	t.Run("pcapng interface block", func(t *testing.T) {
		out := []byte(`File name:           /vagrant/capture/2018-03-01_10-04-05-ping.pcapng
File type:           Wireshark/... - pcapng
File encapsulation:  Ethernet
File timestamp precision:  microseconds (6)
Packet size limit:   file hdr: (not set)
Number of packets:   10
File size:           2,004 bytes
Capture application: Dumpcap (Wireshark) 3.2.3 (Git v3.2.3 packaged as 3.2.3-1)
Number of interfaces in file: 1
Interface #0 info:
                     Name = enp0s8
                     Encapsulation = Ethernet (1 - ether)
                     Capture length = 262144
                     Time precision = microseconds (6)
                     Capture filter = icmp
                     Number of stat entries = 1
                     Number of packets = 10
`)
		props, err := ParseProperties(out)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		checks := map[string]string{
			"File name":                      "/vagrant/capture/2018-03-01_10-04-05-ping.pcapng",
			"Packet size limit":              "file hdr: (not set)",
			"Number of packets":              "10",
			"Number of interfaces in file":   "1",
			"Interface #0 Name":              "enp0s8",
			"Interface #0 Encapsulation":     "Ethernet (1 - ether)",
			"Interface #0 Capture filter":    "icmp",
			"Interface #0 Number of packets": "10",
		}
		for k, want := range checks {
			if got := props[k]; got != want {
				t.Errorf("%s = %q, want %q", k, got, want)
			}
		}
		if _, ok := props["Interface #0 info"]; ok {
			t.Errorf("block heading should not be a property")
		}
		if len(props) != 9+7 {
			t.Errorf("expected 16 properties, got %d: %v", len(props), props)
		}
	})
}

func TestParsePairs(t *testing.T) {
	out := []byte("aa:bb:cc:dd:ee:01\t10.0.0.1\naa:bb:cc:dd:ee:02\t10.0.0.2\naa:bb:cc:dd:ee:01\t10.0.0.1\naa:bb:cc:dd:ee:03\t\n")
	pairs, err := ParsePairs(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Pair{
		{MAC: "aa:bb:cc:dd:ee:01", IP: "10.0.0.1"},
		{MAC: "aa:bb:cc:dd:ee:02", IP: "10.0.0.2"},
		{MAC: "aa:bb:cc:dd:ee:03", IP: ""},
	}
	if diff := cmp.Diff(want, pairs); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParsePairs([]byte("aa:bb 10.0.0.1 10.0.0.2\n")); err == nil {
		t.Errorf("expected ParseError for space separated columns")
	}
	if _, err := ParsePairs([]byte("aa:bb\t10.0.0.1\t10.0.0.2\n")); err == nil {
		t.Errorf("expected ParseError for three columns")
	}

	t.Run("frames without ethernet", func(t *testing.T) {
		pairs, err := ParsePairs([]byte("\t10.0.0.9\naa:bb:cc:dd:ee:01\t10.0.0.1\n\t10.0.0.9\n"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []Pair{
			{MAC: "", IP: "10.0.0.9"},
			{MAC: "aa:bb:cc:dd:ee:01", IP: "10.0.0.1"},
		}
		if diff := cmp.Diff(want, pairs); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})
}

// fakeExec answers commands from a table keyed by the rendered command.
type fakeExec struct {
	out   map[string]string
	fail  map[string]bool
	calls []string
}

func (f *fakeExec) Run(_ context.Context, c runner.Command) (runner.Result, error) {
	key := c.String()
	f.calls = append(f.calls, key)
	if f.fail[key] {
		return runner.Result{Stderr: []byte("tshark: boom")}, &runner.ExternalToolError{Command: c, Stderr: []byte("tshark: boom")}
	}
	return runner.Result{Stdout: []byte(f.out[key])}, nil
}

func TestAnalyzer(t *testing.T) {
	ctx := context.Background()
	file := "trace.pcapng"
	src := PairsCommand(file, Source).String()
	dst := PairsCommand(file, Destination).String()

	t.Run("conversations", func(t *testing.T) {
		f := &fakeExec{out: map[string]string{
			ConversationsCommand(file).String(): string(convOutput("10.0.0.1:1 <-> 10.0.0.2:2 1 1 1 1 2 2 0.0 0.1\n")),
		}}
		convs, err := New(f).TCPConversations(ctx, file)
		if err != nil || len(convs) != 1 {
			t.Fatalf("got %v, %v", convs, err)
		}
		if f.calls[0] != "tshark -r trace.pcapng -q -z conv,tcp" {
			t.Errorf("command = %s", f.calls[0])
		}
	})

	t.Run("tool failure yields empty result", func(t *testing.T) {
		f := &fakeExec{fail: map[string]bool{ConversationsCommand(file).String(): true}}
		convs, err := New(f).TCPConversations(ctx, file)
		if err == nil {
			t.Errorf("expected error")
		}
		if convs == nil || len(convs) != 0 {
			t.Errorf("expected empty slice, got %v", convs)
		}
	})

	t.Run("pairs from both directions", func(t *testing.T) {
		f := &fakeExec{out: map[string]string{
			src: "aa\t10.0.0.1\naa\t10.0.0.1\nbb\t10.0.0.2\n",
			dst: "bb\t10.0.0.2\ncc\t10.0.0.3\n",
		}}
		pairs, err := New(f).MACIPPairs(ctx, file)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// unique(src)=2 + unique(dst)=2, bb/10.0.0.2 listed once per direction
		if len(pairs) != 4 {
			t.Errorf("expected 4 pairs, got %d: %v", len(pairs), pairs)
		}
		if src != "tshark -nr trace.pcapng -T fields -e eth.src -e ip.src -E separator=/t" {
			t.Errorf("src command = %s", src)
		}
	})

	t.Run("failing direction keeps the other", func(t *testing.T) {
		f := &fakeExec{
			out:  map[string]string{dst: "cc\t10.0.0.3\n"},
			fail: map[string]bool{src: true},
		}
		pairs, err := New(f).MACIPPairs(ctx, file)
		if err == nil {
			t.Errorf("expected error from source query")
		}
		if diff := cmp.Diff([]Pair{{MAC: "cc", IP: "10.0.0.3"}}, pairs); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("capture properties", func(t *testing.T) {
		f := &fakeExec{out: map[string]string{
			PropertiesCommand(file).String(): "File name:   trace.pcapng\nNumber of packets:   3\n",
		}}
		props, err := New(f).CaptureProperties(ctx, file)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if props["Number of packets"] != "3" {
			t.Errorf("props = %v", props)
		}
	})

	t.Run("empty capinfos output", func(t *testing.T) {
		f := &fakeExec{out: map[string]string{}}
		props, err := New(f).CaptureProperties(ctx, file)
		if err == nil || props == nil || len(props) != 0 {
			t.Errorf("expected empty properties and error, got %v, %v", props, err)
		}
	})
}
