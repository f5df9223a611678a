package browser

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// traceRecorder captures CDP network and console events into a JSONL file.
// It is the diagnostic artifact uploaded on run failure: enough to replay
// which requests fired, what came back and what the page logged.
type traceRecorder struct {
	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	cancel context.CancelFunc
}

type traceEvent struct {
	Time   time.Time      `json:"ts"`
	Kind   string         `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
}

// startTrace begins recording events from the browser context into a temp
// file named after the institution.
func startTrace(browserCtx context.Context, institution string) (*traceRecorder, error) {
	file, err := os.CreateTemp("", "trace-"+institution+"-*.jsonl")
	if err != nil {
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(browserCtx)
	rec := &traceRecorder{
		file:   file,
		enc:    json.NewEncoder(file),
		cancel: cancel,
	}

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			rec.record("request", map[string]any{
				"url":    e.Request.URL,
				"method": e.Request.Method,
				"id":     string(e.RequestID),
			})
		case *network.EventResponseReceived:
			rec.record("response", map[string]any{
				"url":    e.Response.URL,
				"status": e.Response.Status,
				"id":     string(e.RequestID),
			})
		case *network.EventLoadingFailed:
			rec.record("loading_failed", map[string]any{
				"id":    string(e.RequestID),
				"error": e.ErrorText,
			})
		case *runtime.EventConsoleAPICalled:
			args := make([]string, 0, len(e.Args))
			for _, arg := range e.Args {
				args = append(args, string(arg.Value))
			}
			rec.record("console", map[string]any{
				"type": string(e.Type),
				"args": args,
			})
		}
	})

	return rec, nil
}

func (r *traceRecorder) record(kind string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return
	}
	_ = r.enc.Encode(traceEvent{Time: time.Now(), Kind: kind, Fields: fields})
}

// Stop ends recording and flushes the file.
func (r *traceRecorder) Stop() {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		_ = r.file.Close()
		r.enc = nil
	}
}

// Path returns the trace file location.
func (r *traceRecorder) Path() string {
	return r.file.Name()
}
