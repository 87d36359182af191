package agent

import (
	"bufio"
	"io"
	"iter"
	"strings"
)

// maxEventSize bounds one SSE line. Audio segments travel base64-encoded
// inside a single data line.
const maxEventSize = 16 * 1024 * 1024

type sseEvent struct {
	Event string
	Data  string
}

// readEvents yields complete server-sent events in arrival order. A trailing
// event without a terminating blank line is still yielded when the reader
// ends.
func readEvents(reader io.Reader) iter.Seq2[sseEvent, error] {
	return func(yield func(sseEvent, error) bool) {
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

		var eventName string
		var dataLines []string

		flush := func() bool {
			if len(dataLines) == 0 {
				eventName = ""
				return true
			}
			ev := sseEvent{
				Event: strings.TrimSpace(eventName),
				Data:  strings.Join(dataLines, "\n"),
			}
			eventName = ""
			dataLines = dataLines[:0]
			return yield(ev, nil)
		}

		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if !flush() {
					return
				}
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "event:"):
				eventName = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
		}
		if err := scanner.Err(); err != nil {
			yield(sseEvent{}, err)
			return
		}
		flush()
	}
}
