// Package capture reads and writes link-layer capture files carrying
// IEC 61850 GOOSE traffic
package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// DefaultSnapLen is the snapshot length written to pcap headers
const DefaultSnapLen = 65536

var (
	ErrUnknownFormat = errors.New("capture: unknown file format")
	ErrClosed        = errors.New("capture: file closed")
)

var (
	zstdMagic   = []byte{0x28, 0xB5, 0x2F, 0xFD}
	lz4Magic    = []byte{0x04, 0x22, 0x4D, 0x18}
	pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}
)

// Format is a capture container format
type Format int

const (
	FormatPcap Format = iota
	FormatPcapNG
)

func (f Format) String() string {
	if f == FormatPcapNG {
		return "pcapng"
	}
	return "pcap"
}

// Compression is the stream compression wrapped around a capture file
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// FormatFor derives the container format and compression from a file name:
// a .zst or .lz4 suffix selects compression, and .pcapng before it selects
// pcapng.
func FormatFor(path string) (Format, Compression) {
	c := CompressionNone
	switch {
	case strings.HasSuffix(path, ".zst"):
		c = CompressionZstd
		path = strings.TrimSuffix(path, ".zst")
	case strings.HasSuffix(path, ".lz4"):
		c = CompressionLZ4
		path = strings.TrimSuffix(path, ".lz4")
	}
	if strings.HasSuffix(path, ".pcapng") {
		return FormatPcapNG, c
	}
	return FormatPcap, c
}

// Packet is one captured link-layer frame
type Packet struct {
	Timestamp time.Time
	Data      []byte
	// Index is the position of the packet in the file, from 0
	Index int
}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Reader reads packets from a pcap or pcapng file, optionally compressed
// with zstd or lz4
type Reader struct {
	mu          sync.Mutex
	src         packetSource
	file        io.Closer
	release     func()
	format      Format
	compression Compression
	count       int
	closed      bool
}

// Open opens a capture file. Format and compression are detected from the
// file contents.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

// Follow opens a capture file that is still being written. At the end of
// the file reads wait for more data, polling every poll interval, until ctx
// is done.
func Follow(ctx context.Context, path string, poll time.Duration) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	r, err := NewReader(&followReader{ctx: ctx, r: f, poll: poll})
	if err != nil {
		f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

// NewReader reads a capture from r
func NewReader(r io.Reader) (*Reader, error) {
	rd := &Reader{}
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}

	switch {
	case bytes.Equal(magic, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		rd.release = dec.Close
		rd.compression = CompressionZstd
		br = bufio.NewReader(dec)
	case bytes.Equal(magic, lz4Magic):
		rd.compression = CompressionLZ4
		br = bufio.NewReader(lz4.NewReader(br))
	}
	if rd.compression != CompressionNone {
		if magic, err = br.Peek(4); err != nil {
			rd.closeSource()
			return nil, fmt.Errorf("read magic: %w", err)
		}
	}

	switch {
	case bytes.Equal(magic, pcapngMagic):
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			rd.closeSource()
			return nil, fmt.Errorf("pcapng reader: %w", err)
		}
		rd.src = ng
		rd.format = FormatPcapNG
	case isPcapMagic(magic):
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			rd.closeSource()
			return nil, fmt.Errorf("pcap reader: %w", err)
		}
		rd.src = pr
		rd.format = FormatPcap
	default:
		rd.closeSource()
		return nil, fmt.Errorf("%w: magic % x", ErrUnknownFormat, magic)
	}
	return rd, nil
}

func isPcapMagic(magic []byte) bool {
	for _, v := range []uint32{binary.LittleEndian.Uint32(magic), binary.BigEndian.Uint32(magic)} {
		if v == 0xA1B2C3D4 || v == 0xA1B23C4D {
			return true
		}
	}
	return false
}

func (r *Reader) closeSource() {
	if r.release != nil {
		r.release()
		r.release = nil
	}
}

// Next returns the next packet, or io.EOF at the end of the file
func (r *Reader) Next() (Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Packet{}, ErrClosed
	}
	data, ci, err := r.src.ReadPacketData()
	if err != nil {
		return Packet{}, err
	}
	p := Packet{Timestamp: ci.Timestamp, Data: data, Index: r.count}
	r.count++
	return p, nil
}

// LinkType returns the link type of the capture
func (r *Reader) LinkType() layers.LinkType {
	return r.src.LinkType()
}

// Format returns the detected container format
func (r *Reader) Format() Format { return r.format }

// Compression returns the detected compression
func (r *Reader) Compression() Compression { return r.compression }

// Count returns the number of packets read so far
func (r *Reader) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close releases the reader and its file
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.closeSource()
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// followReader turns end of file into a wait for more data
type followReader struct {
	ctx  context.Context
	r    io.Reader
	poll time.Duration
}

func (f *followReader) Read(p []byte) (int, error) {
	for {
		n, err := f.r.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
		select {
		case <-f.ctx.Done():
			return 0, io.EOF
		case <-time.After(f.poll):
		}
	}
}

// Writer writes Ethernet frames to a pcap or pcapng file, optionally
// compressed
type Writer struct {
	mu         sync.Mutex
	pcap       *pcapgo.Writer
	ng         *pcapgo.NgWriter
	compressor io.WriteCloser
	file       io.Closer
	count      int
	closed     bool
}

// Create creates a capture file, choosing format and compression from the
// file name (see FormatFor)
func Create(path string) (*Writer, error) {
	format, compression := FormatFor(path)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture: %w", err)
	}
	w, err := NewWriter(f, format, compression)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.file = f
	return w, nil
}

// NewWriter writes an Ethernet capture to out
func NewWriter(out io.Writer, format Format, compression Compression) (*Writer, error) {
	w := &Writer{}
	switch compression {
	case CompressionZstd:
		enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		w.compressor = enc
		out = enc
	case CompressionLZ4:
		lw := lz4.NewWriter(out)
		w.compressor = lw
		out = lw
	}

	switch format {
	case FormatPcapNG:
		ng, err := pcapgo.NewNgWriter(out, layers.LinkTypeEthernet)
		if err != nil {
			return nil, fmt.Errorf("pcapng writer: %w", err)
		}
		w.ng = ng
	default:
		pw := pcapgo.NewWriter(out)
		if err := pw.WriteFileHeader(DefaultSnapLen, layers.LinkTypeEthernet); err != nil {
			return nil, fmt.Errorf("pcap header: %w", err)
		}
		w.pcap = pw
	}
	return w, nil
}

// WritePacket appends one frame captured at ts
func (w *Writer) WritePacket(ts time.Time, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}
	var err error
	if w.ng != nil {
		err = w.ng.WritePacket(ci, data)
	} else {
		err = w.pcap.WritePacket(ci, data)
	}
	if err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of packets written
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes buffered data and closes the file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	if w.ng != nil {
		errs = append(errs, w.ng.Flush())
	}
	if w.compressor != nil {
		errs = append(errs, w.compressor.Close())
	}
	if w.file != nil {
		errs = append(errs, w.file.Close())
	}
	return errors.Join(errs...)
}
