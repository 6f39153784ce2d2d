package flightlog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"
)

// Replay streams JSONL entries from r into sink. A speed > 0 reproduces the
// original spacing divided by speed; speed <= 0 replays without delay.
// It returns the number of entries replayed.
func Replay(ctx context.Context, r io.Reader, sink Sink, speed float64) (int, error) {
	dec := json.NewDecoder(r)
	var prev time.Time
	n := 0
	for {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		if !prev.IsZero() && speed > 0 {
			if diff := time.Duration(float64(e.Timestamp.Sub(prev)) / speed); diff > 0 {
				t := time.NewTimer(diff)
				select {
				case <-ctx.Done():
					t.Stop()
					return n, ctx.Err()
				case <-t.C:
				}
			}
		}
		if err := sink.AppendLog(e); err != nil {
			return n, err
		}
		n++
		prev = e.Timestamp
	}
}

// ReplayFile opens path and replays it.
func ReplayFile(ctx context.Context, path string, sink Sink, speed float64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return Replay(ctx, f, sink, speed)
}
