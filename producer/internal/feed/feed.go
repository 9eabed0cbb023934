package feed

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/tillu/branchbus/pkg/events"
)

// maxLine bounds a single NDJSON line.
const maxLine = 1 << 20

// Stats counts what a Read saw.
type Stats struct {
	Lines   int
	Events  int
	Skipped int
	Invalid int
}

// Open returns the feed at path. "-" is stdin, which is not closed.
func Open(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("feed: open %q: %w", path, err)
	}
	return f, nil
}

// Read decodes events from r and hands each to fn, waiting interval between
// two events. It returns at EOF, on a read error or when ctx is cancelled.
func Read(ctx context.Context, r io.Reader, interval time.Duration, fn func(events.Event)) (Stats, error) {
	var st Stats

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	for sc.Scan() {
		if ctx.Err() != nil {
			return st, nil
		}
		st.Lines++

		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			st.Skipped++
			continue
		}

		e, err := events.Decode(line)
		if err == nil {
			err = e.Validate()
		}
		if err != nil {
			st.Invalid++
			slog.Warn("feed: skipping invalid line", "line", st.Lines, "err", err)
			continue
		}

		if st.Events > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return st, nil
			case <-time.After(interval):
			}
		}

		st.Events++
		fn(e)
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("feed: read line %d: %w", st.Lines+1, err)
	}
	return st, nil
}
