// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/goose/goose"
	"github.com/edgeo/drivers/goose/internal/capture"
)

var interactiveMessage string

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start an interactive GOOSE publisher session",
	Long: `Interactive mode provides a REPL for building a GOOSE publication and
stepping it through state changes and retransmissions.

Commands:
  load <file>                       - Load a message description
  new <src> <gocbRef> <datSet>      - Start an empty publication
  show                              - Show the current frame
  set <field> <value>               - Change a header field
  add <value> [type]                - Append a dataset value
  update <index> <value> [type]     - Change a value (new state)
  retransmit                        - Repeat the current state
  encode                            - Print the current frame as hex
  decode <hex>                      - Decode a frame
  save <file>                       - Write the frames sent so far
  metrics                           - Show codec metrics
  help                              - Show help
  exit                              - Exit interactive mode

Examples:
  goose> new 00:11:22:33:44:55 IED1LD0/LLN0$GO$gcb1 IED1LD0/LLN0$DS1
  goose[st=1]> add true
  goose[st=1]> update 0 false
  goose[st=2]> retransmit
  goose[st=2]> save session.pcap`,

	RunE: runInteractive,
}

func init() {
	interactiveCmd.Flags().StringVarP(&interactiveMessage, "file", "f", "", "Message description to load at start")
}

type sentFrame struct {
	at   time.Time
	data []byte
}

// session is the state of one interactive run
type session struct {
	out   *Formatter
	codec *goose.Codec
	frame *goose.Frame
	pub   *goose.Publisher
	sent  []sentFrame
}

func runInteractive(cmd *cobra.Command, args []string) error {
	codec, err := createCodec()
	if err != nil {
		return err
	}
	s := &session{out: NewFormatter(string(FormatTable)), codec: codec}
	s.out.SetWriter(cmd.OutOrStdout())

	if interactiveMessage != "" {
		if err := s.load(interactiveMessage); err != nil {
			return err
		}
	}

	s.out.Println("GOOSE Interactive Shell")
	s.out.Println("Type 'help' for available commands, 'exit' to quit")
	s.out.Println()

	return s.run(cmd.InOrStdin())
}

func (s *session) run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		if s.pub != nil {
			s.out.Printf("goose[st=%d]> ", s.pub.StNum())
		} else {
			s.out.Printf("goose> ")
		}

		if !scanner.Scan() {
			s.out.Println()
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		command := strings.ToLower(parts[0])

		var err error
		switch command {
		case "exit", "quit", "q":
			s.out.Println("Goodbye!")
			return nil

		case "help", "?":
			s.printHelp()

		case "load":
			if len(parts) < 2 {
				s.out.Println("Usage: load <file>")
				continue
			}
			err = s.load(parts[1])

		case "new":
			if len(parts) < 4 {
				s.out.Println("Usage: new <src> <gocbRef> <datSet>")
				continue
			}
			err = s.create(parts[1], parts[2], parts[3])

		case "decode":
			if len(parts) < 2 {
				s.out.Println("Usage: decode <hex>")
				continue
			}
			err = s.decode(parts[1:])

		case "metrics":
			s.printMetrics()

		case "show", "set", "add", "update", "retransmit", "encode", "save":
			if s.pub == nil {
				s.out.Println("No publication. Use 'load <file>' or 'new <src> <gocbRef> <datSet>' first.")
				continue
			}
			err = s.publisherCommand(command, parts[1:])

		default:
			s.out.Printf("Unknown command: %s (type 'help' for available commands)\n", command)
		}

		if err != nil {
			s.out.Printf("Error: %v\n", err)
		}
	}
}

func (s *session) publisherCommand(command string, args []string) error {
	switch command {
	case "show":
		printFrame(s.out, newFrameView(0, s.frame))

	case "set":
		if len(args) < 2 {
			s.out.Println("Usage: set <field> <value>")
			return nil
		}
		if err := s.set(args[0], strings.Join(args[1:], " ")); err != nil {
			return err
		}
		s.out.Printf("OK: %s = %s\n", args[0], strings.Join(args[1:], " "))

	case "add":
		if len(args) < 1 {
			s.out.Println("Usage: add <value> [type]")
			return nil
		}
		v, err := parseValueString(args[0], optionalArg(args, 1))
		if err != nil {
			return err
		}
		ds := s.frame.PDU().DataSet()
		ds.Add(v)
		s.out.Printf("OK: [%d] = %s (%s)\n", ds.Len()-1, v, v.Kind())

	case "update":
		if len(args) < 2 {
			s.out.Println("Usage: update <index> <value> [type]")
			return nil
		}
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid index %q", args[0])
		}
		v, err := parseValueString(args[1], optionalArg(args, 2))
		if err != nil {
			return err
		}
		data, err := s.pub.Update(func(ds *goose.DataSet) error {
			if idx < 0 || idx > ds.Len() {
				return fmt.Errorf("index %d out of range (%d values)", idx, ds.Len())
			}
			ds.Set(idx, v)
			return nil
		})
		if err != nil {
			return err
		}
		s.record(data)
		s.out.Printf("State change: stNum=%d sqNum=%d, %d bytes\n", s.pub.StNum(), s.pub.SqNum(), len(data))

	case "retransmit":
		data, err := s.pub.Retransmit()
		if err != nil {
			return err
		}
		s.record(data)
		s.out.Printf("Retransmission: stNum=%d sqNum=%d, %d bytes\n", s.pub.StNum(), s.pub.SqNum(), len(data))

	case "encode":
		data, err := s.pub.Current()
		if err != nil {
			return err
		}
		s.record(data)
		s.out.Println(hex.EncodeToString(data))

	case "save":
		if len(args) < 1 {
			s.out.Println("Usage: save <file>")
			return nil
		}
		return s.save(args[0])
	}
	return nil
}

func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func (s *session) load(path string) error {
	msg, err := loadMessage(path)
	if err != nil {
		return err
	}
	frame, err := msg.frame(time.Now())
	if err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	if err := s.use(frame); err != nil {
		return err
	}
	s.out.Printf("Loaded %s (%d values)\n", frame.PDU().GocbRef(), frame.PDU().DataSet().Len())
	return nil
}

func (s *session) create(src, gocbRef, datSet string) error {
	mac, err := net.ParseMAC(src)
	if err != nil {
		return err
	}
	pdu := goose.NewPDU()
	pdu.SetGocbRef(gocbRef)
	pdu.SetDatSet(datSet)
	pdu.SetTimeAllowedToLive(2000)
	pdu.SetConfRev(1)
	pdu.SetT(goose.NewTimestamp(time.Now()))
	frame, err := goose.NewFrame(mac, pdu)
	if err != nil {
		return err
	}
	return s.use(frame)
}

func (s *session) use(frame *goose.Frame) error {
	if frame.PDU() == nil {
		return fmt.Errorf("message is not a GOOSE publication")
	}
	pub, err := goose.NewPublisher(frame,
		goose.WithLogger(logger),
		goose.WithMetrics(metrics),
		goose.WithMaxAPDULength(maxAPDU),
	)
	if err != nil {
		return err
	}
	s.frame, s.pub, s.sent = frame, pub, nil
	return nil
}

// set changes a field without starting a new state
func (s *session) set(field, value string) error {
	pdu := s.frame.PDU()
	parseUint := func(bits int) (uint64, error) {
		return strconv.ParseUint(value, 0, bits)
	}

	switch strings.ToLower(field) {
	case "gocbref":
		pdu.SetGocbRef(value)
	case "datset":
		pdu.SetDatSet(value)
	case "goid":
		pdu.SetGoID(value)
	case "ttl", "timeallowedtolive":
		n, err := parseUint(32)
		if err != nil {
			return err
		}
		pdu.SetTimeAllowedToLive(uint32(n))
	case "confrev":
		n, err := parseUint(32)
		if err != nil {
			return err
		}
		pdu.SetConfRev(uint32(n))
	case "stnum":
		n, err := strconv.ParseInt(value, 0, 64)
		if err != nil {
			return err
		}
		pdu.SetStNum(n)
	case "sqnum":
		n, err := strconv.ParseInt(value, 0, 64)
		if err != nil {
			return err
		}
		pdu.SetSqNum(n)
	case "test":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		pdu.SetTest(b)
	case "ndscom":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		pdu.SetNdsCom(b)
	case "appid":
		n, err := parseUint(16)
		if err != nil {
			return err
		}
		return s.frame.SetAppID([]byte{byte(n >> 8), byte(n)})
	case "src", "dst":
		mac, err := net.ParseMAC(value)
		if err != nil {
			return err
		}
		if strings.EqualFold(field, "src") {
			return s.frame.SetSrc(mac)
		}
		return s.frame.SetDst(mac)
	default:
		return fmt.Errorf("unknown field %q (gocbRef, datSet, goID, ttl, confRev, stNum, sqNum, test, ndsCom, appid, src, dst)", field)
	}
	return nil
}

func (s *session) record(data []byte) {
	s.sent = append(s.sent, sentFrame{at: time.Now(), data: data})
}

func (s *session) save(path string) error {
	if len(s.sent) == 0 {
		s.out.Println("Nothing sent yet")
		return nil
	}
	w, err := capture.Create(path)
	if err != nil {
		return err
	}
	for _, f := range s.sent {
		if err := w.WritePacket(f.at, f.data); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	s.out.Printf("Saved %d frame(s) to %s\n", len(s.sent), path)
	return nil
}

func (s *session) decode(args []string) error {
	data, err := parseHexFrame(args)
	if err != nil {
		return err
	}
	return decodeOne(s.out, s.codec, data)
}

func (s *session) printHelp() {
	s.out.Println(`
Available commands:
  load <file>                       Load a YAML or JSON message description
  new <src> <gocbRef> <datSet>      Start an empty publication
  show                              Show the current frame
  set <field> <value>               Change a field without a state change
  add <value> [type]                Append a value to the dataset
  update <index> <value> [type]     Change a value: stNum advances, sqNum restarts
  retransmit                        Repeat the current state: sqNum advances
  encode                            Print the current frame as hex
  decode <hex>                      Decode a frame given as hex
  save <file>                       Write the frames sent so far to a capture
  metrics                           Show codec metrics
  help                              Show this help message
  exit                              Exit interactive mode

Fields: gocbRef, datSet, goID, ttl, confRev, stNum, sqNum, test, ndsCom,
        appid, src, dst

Value types (inferred when omitted):
  boolean, bit-string, integer, unsigned, float, float64
  Examples: true, -5, 42, 1.5, [0,3]`)
}

func (s *session) printMetrics() {
	m := metrics.Snapshot()

	s.out.Println("\nCodec Metrics:")
	s.out.Printf("  Uptime:              %s\n", m.Uptime.Round(time.Second))
	s.out.Printf("  Frames Encoded:      %d\n", m.FramesEncoded)
	s.out.Printf("  Encode Failures:     %d\n", m.EncodeFailures)
	s.out.Printf("  Bytes Encoded:       %d\n", m.BytesEncoded)
	s.out.Printf("  Frames Decoded:      %d\n", m.FramesDecoded)
	s.out.Printf("  Decode Failures:     %d\n", m.DecodeFailures)
	s.out.Printf("  State Changes:       %d\n", m.StateChanges)
	s.out.Printf("  Retransmissions:     %d\n", m.Retransmissions)

	if m.EncodeLatency.Count > 0 {
		s.out.Printf("  Avg Encode:          %s\n", m.EncodeLatency.Avg.Round(time.Microsecond))
		s.out.Printf("  Max Encode:          %s\n", m.EncodeLatency.Max.Round(time.Microsecond))
	}
	if m.DecodeLatency.Count > 0 {
		s.out.Printf("  Avg Decode:          %s\n", m.DecodeLatency.Avg.Round(time.Microsecond))
		s.out.Printf("  Max Decode:          %s\n", m.DecodeLatency.Max.Round(time.Microsecond))
	}
	s.out.Println()
}
