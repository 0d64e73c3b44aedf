package runner

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/logrusorgru/aurora/v4"
	"github.com/projectdiscovery/tcpdetect/pkg/types"
)

// eventWriter prints peer events as coloured lines or jsonl
type eventWriter struct {
	mu    sync.Mutex
	w     io.Writer
	json  bool
	color *aurora.Aurora
}

func newEventWriter(w io.Writer, jsonl, noColor bool) *eventWriter {
	return &eventWriter{
		w:     w,
		json:  jsonl,
		color: aurora.New(aurora.WithColors(!noColor)),
	}
}

func (e *eventWriter) Write(event types.PeerEvent) error {
	var line []byte
	if e.json {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("could not marshal event: %w", err)
		}
		line = append(data, '\n')
	} else {
		line = []byte(e.format(event))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.w.Write(line)
	return err
}

func (e *eventWriter) format(event types.PeerEvent) string {
	label := e.color.Green(string(event.Type)).String()
	if event.Type == types.EventUnreachable {
		label = e.color.Red(string(event.Type)).String()
	}
	return fmt.Sprintf("[%s] %s\n", label, event.HostPort())
}
