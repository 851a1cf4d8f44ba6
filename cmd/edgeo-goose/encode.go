package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/goose/goose"
	"github.com/edgeo/drivers/goose/internal/capture"
)

var (
	encodeMessage     string
	encodeWrite       string
	encodeRepeat      int
	encodeInterval    time.Duration
	encodeMaxInterval time.Duration
)

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Build frames from a message description",
	Long: `Encode builds a frame from a YAML or JSON message description and prints it
as hex, or writes it to a capture file.

With --repeat the frame is followed by retransmissions of the same state:
sqNum advances on each one and the capture timestamps double from --interval
up to --max-interval.

Value types are inferred when omitted:
  - Booleans: true, false
  - Negative integers: integer (INT32)
  - Other integers: unsigned (INT32U)
  - Decimals: floating-point (FLOAT32)
  - Lists: bit-string positions, e.g. [0, 3]

Example message:
  src: 00:11:22:33:44:55
  appid: 0x3001
  gocbRef: IED1LD0/LLN0$GO$gcb1
  datSet: IED1LD0/LLN0$DS1
  goID: gcb1
  timeAllowedToLive: 2000
  confRev: 1
  values:
    - true
    - {type: integer, value: -5}
    - {type: float, value: 49.98}

Examples:
  # Print the frame as hex
  edgeo-goose encode -f message.yaml

  # Write the frame and 5 retransmissions to a compressed capture
  edgeo-goose encode -f message.yaml -w out.pcapng.zst --repeat 5`,

	RunE: runEncode,
}

func init() {
	encodeCmd.Flags().StringVarP(&encodeMessage, "file", "f", "", "Message description (YAML or JSON)")
	encodeCmd.Flags().StringVarP(&encodeWrite, "write", "w", "", "Capture file to write (.pcap, .pcapng, optionally .zst or .lz4)")
	encodeCmd.Flags().IntVar(&encodeRepeat, "repeat", 0, "Number of retransmissions to emit")
	encodeCmd.Flags().DurationVar(&encodeInterval, "interval", 4*time.Millisecond, "First retransmission interval")
	encodeCmd.Flags().DurationVar(&encodeMaxInterval, "max-interval", time.Second, "Longest retransmission interval")

	encodeCmd.MarkFlagRequired("file")
}

type encodedFrame struct {
	Time  time.Time `json:"time" yaml:"time"`
	StNum uint32    `json:"st_num" yaml:"st_num"`
	SqNum uint32    `json:"sq_num" yaml:"sq_num"`
	Hex   string    `json:"hex" yaml:"hex"`
	data  []byte
}

func runEncode(cmd *cobra.Command, args []string) error {
	if encodeRepeat < 0 {
		return fmt.Errorf("--repeat must not be negative")
	}

	msg, err := loadMessage(encodeMessage)
	if err != nil {
		return err
	}
	start := time.Now()
	frame, err := msg.frame(start)
	if err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	frames, err := encodeFrames(frame, start)
	if err != nil {
		return err
	}

	if encodeWrite != "" {
		w, err := capture.Create(encodeWrite)
		if err != nil {
			return err
		}
		for _, ef := range frames {
			if err := w.WritePacket(ef.Time, ef.data); err != nil {
				w.Close()
				return err
			}
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("close capture: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d frame(s) to %s\n", len(frames), encodeWrite)
		return nil
	}

	out := newFormatter(cmd)
	rows := make([][]string, len(frames))
	for i, ef := range frames {
		rows[i] = []string{strconv.FormatUint(uint64(ef.StNum), 10), strconv.FormatUint(uint64(ef.SqNum), 10), ef.Hex}
	}
	switch out.Format() {
	case FormatTable, FormatRaw:
		for _, ef := range frames {
			out.Println(ef.Hex)
		}
		return nil
	default:
		return out.PrintRows(frames, []string{"st_num", "sq_num", "hex"}, rows)
	}
}

// encodeFrames returns the frame followed by encodeRepeat retransmissions
func encodeFrames(frame *goose.Frame, start time.Time) ([]encodedFrame, error) {
	codec, err := createCodec()
	if err != nil {
		return nil, err
	}

	if frame.PDU() == nil {
		data, err := codec.EncodeFrame(frame)
		if err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		frames := make([]encodedFrame, 0, encodeRepeat+1)
		at := start
		interval := encodeInterval
		for i := 0; i <= encodeRepeat; i++ {
			frames = append(frames, encodedFrame{Time: at, Hex: hex.EncodeToString(data), data: data})
			at = at.Add(interval)
			interval = nextInterval(interval)
		}
		return frames, nil
	}

	pub, err := goose.NewPublisher(frame,
		goose.WithLogger(logger),
		goose.WithMetrics(metrics),
		goose.WithMaxAPDULength(maxAPDU),
	)
	if err != nil {
		return nil, err
	}

	data, err := pub.Current()
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	frames := []encodedFrame{{Time: start, StNum: pub.StNum(), SqNum: pub.SqNum(), Hex: hex.EncodeToString(data), data: data}}

	at := start
	interval := encodeInterval
	for i := 0; i < encodeRepeat; i++ {
		at = at.Add(interval)
		interval = nextInterval(interval)
		data, err := pub.Retransmit()
		if err != nil {
			return nil, fmt.Errorf("retransmit: %w", err)
		}
		frames = append(frames, encodedFrame{Time: at, StNum: pub.StNum(), SqNum: pub.SqNum(), Hex: hex.EncodeToString(data), data: data})
	}
	return frames, nil
}

func nextInterval(d time.Duration) time.Duration {
	d *= 2
	if d > encodeMaxInterval {
		return encodeMaxInterval
	}
	return d
}
