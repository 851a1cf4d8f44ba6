package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/goose/goose"
	"github.com/edgeo/drivers/goose/internal/capture"
)

var (
	watchRead   string
	watchFollow bool
	watchPoll   time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Supervise GOOSE sequence numbers",
	Long: `Watch replays a capture through a subscriber-side sequence check and
reports, per publication:
  - state changes (stNum advanced, sqNum restarted)
  - out-of-order or missed frames
  - configuration revision changes
  - publications whose time-allowed-to-live elapsed without a frame

Retransmissions and duplicates are only shown with -v.

With --follow the capture is read as it grows, for example while tcpdump
writes it, and time-allowed-to-live is checked against the wall clock.

Examples:
  # Check a recorded capture
  edgeo-goose watch -r substation.pcapng

  # Follow a live capture as JSON lines
  tcpdump -i eth0 -w live.pcap ether proto 0x88b8 &
  edgeo-goose watch -r live.pcap --follow -o json`,

	RunE: runWatch,
}

func init() {
	addReadFlag(watchCmd.Flags(), &watchRead)
	watchCmd.Flags().BoolVar(&watchFollow, "follow", false, "Keep reading as the capture grows")
	watchCmd.Flags().DurationVar(&watchPoll, "poll", 100*time.Millisecond, "Polling interval while following")

	watchCmd.MarkFlagRequired("read")
}

// watchRecord is one line of watch output
type watchRecord struct {
	Time      time.Time `json:"time" yaml:"time"`
	Event     string    `json:"event" yaml:"event"`
	Src       string    `json:"src" yaml:"src"`
	GocbRef   string    `json:"gocb_ref" yaml:"gocb_ref"`
	StNum     uint32    `json:"st_num" yaml:"st_num"`
	SqNum     uint32    `json:"sq_num" yaml:"sq_num"`
	PrevStNum uint32    `json:"prev_st_num,omitempty" yaml:"prev_st_num,omitempty"`
	PrevSqNum uint32    `json:"prev_sq_num,omitempty" yaml:"prev_sq_num,omitempty"`
	Values    string    `json:"values,omitempty" yaml:"values,omitempty"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	codec, err := createCodec()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nStopping watch...")
			cancel()
		case <-ctx.Done():
		}
	}()

	var r *capture.Reader
	if watchFollow {
		r, err = capture.Follow(ctx, watchRead, watchPoll)
	} else {
		r, err = capture.Open(watchRead)
	}
	if err != nil {
		return err
	}
	defer r.Close()

	if watchFollow {
		fmt.Fprintf(cmd.ErrOrStderr(), "Following %s, press Ctrl+C to stop\n", watchRead)
	}

	frames := make(chan capturedFrame)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		readErr <- eachFrame(r, codec, func(cf capturedFrame) error {
			select {
			case frames <- cf:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	w := newWatcher(newFormatter(cmd))
	defer w.out.Flush()

	var tick <-chan time.Time
	if watchFollow {
		ticker := time.NewTicker(watchPoll)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case now := <-tick:
			if err := w.expire(now); err != nil {
				return err
			}

		case cf, ok := <-frames:
			if !ok {
				if err := <-readErr; err != nil && ctx.Err() == nil {
					return err
				}
				return nil
			}
			if err := w.frame(cf); err != nil {
				return err
			}
		}
	}
}

// watcher reports tracker events, and each expired publication once until it
// is heard from again
type watcher struct {
	out     *Formatter
	tracker *goose.Tracker
	expired map[goose.StreamKey]bool
}

func newWatcher(out *Formatter) *watcher {
	return &watcher{
		out:     out,
		tracker: goose.NewTracker(),
		expired: make(map[goose.StreamKey]bool),
	}
}

func (w *watcher) frame(cf capturedFrame) error {
	if !cf.IEC || cf.Filtered || (cf.Frame != nil && cf.Frame.PDU() == nil) {
		return nil
	}
	if cf.Err != nil {
		logger.Warn("skipping frame", slog.Int("index", cf.Index), slog.String("error", cf.Err.Error()))
		return nil
	}

	// Offline captures expire against their own timestamps
	if !watchFollow {
		if err := w.expire(cf.Timestamp); err != nil {
			return err
		}
	}

	ev, err := w.tracker.Observe(cf.Frame, cf.Timestamp)
	if err != nil {
		return err
	}
	delete(w.expired, ev.Key)

	if (ev.Type == goose.EventRetransmission || ev.Type == goose.EventDuplicate) && !verbose {
		return nil
	}

	rec := watchRecord{
		Time:      ev.Time,
		Event:     ev.Type.String(),
		Src:       ev.Key.Src,
		GocbRef:   ev.Key.GocbRef,
		StNum:     ev.StNum,
		SqNum:     ev.SqNum,
		PrevStNum: ev.PrevStNum,
		PrevSqNum: ev.PrevSqNum,
	}
	if ev.Type == goose.EventFirst || ev.Type == goose.EventStateChange || ev.Type == goose.EventConfRevChange {
		rec.Values = formatValues(newFrameView(cf.Index, cf.Frame).Values)
	}
	return w.print(rec)
}

func (w *watcher) expire(now time.Time) error {
	for _, s := range w.tracker.Expired(now) {
		if w.expired[s.Key] {
			continue
		}
		w.expired[s.Key] = true
		err := w.print(watchRecord{
			Time:    now,
			Event:   "expired",
			Src:     s.Key.Src,
			GocbRef: s.Key.GocbRef,
			StNum:   s.StNum,
			SqNum:   s.SqNum,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *watcher) print(rec watchRecord) error {
	switch {
	case w.out.Structured():
		return w.out.Stream(rec)
	case w.out.Format() == FormatCSV:
		w.out.Printf("%s,%s,%s,%s,%d,%d,%s\n",
			rec.Time.Format(time.RFC3339Nano),
			rec.Event,
			rec.Src,
			rec.GocbRef,
			rec.StNum,
			rec.SqNum,
			rec.Values,
		)
	default:
		marker := " "
		switch rec.Event {
		case goose.EventStateChange.String(), goose.EventConfRevChange.String():
			marker = "*"
		case goose.EventOutOfOrder.String(), "expired":
			marker = "!"
		}
		w.out.Printf("[%s] %s %-14s %s %s st=%d sq=%d",
			rec.Time.Format("15:04:05.000"),
			marker,
			rec.Event,
			rec.Src,
			rec.GocbRef,
			rec.StNum,
			rec.SqNum,
		)
		if rec.Event == goose.EventOutOfOrder.String() {
			w.out.Printf(" (after st=%d sq=%d)", rec.PrevStNum, rec.PrevSqNum)
		}
		if rec.Values != "" {
			w.out.Printf(" = %s", rec.Values)
		}
		w.out.Println()
	}
	return nil
}
