package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Record is one line of a streamed Ollama response.
type Record interface {
	// Text is the incremental text of the record, possibly empty.
	Text() string
	// Final reports whether this is the terminal record of the stream.
	Final() bool
	// RecordKeys lists the top-level keys of which a line must carry at
	// least one, non-null, to be taken as a record.
	RecordKeys() []string
}

var errNotRecord = errors.New("line is not a stream record")

const readBufferSize = 32 * 1024

type readResult struct {
	data []byte
	err  error
}

// Stream is one in-flight streamed response. It is driven by the caller:
// each call to Next blocks until the next record is available, so a slow
// consumer never lets records pile up.
//
// A Stream must be used from a single goroutine. To abandon it from
// elsewhere, cancel the context it was opened with.
type Stream[R Record] struct {
	parent context.Context
	ctx    context.Context
	cancel context.CancelCauseFunc
	body   io.ReadCloser
	reads  chan readResult
	logger *zap.Logger

	idle             time.Duration
	acceptIncomplete bool

	lines lineBuffer
	eof   bool

	acc       strings.Builder
	cur       R
	last      R
	records   int
	skipped   int
	completed bool
	finished  bool
	err       error
}

// openStream POSTs payload to path and returns a stream over the response
// body once a success status has been received.
func openStream[R Record](ctx context.Context, c *Client, path string, payload any) (*Stream[R], error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	sctx, cancel := context.WithCancelCause(ctx)

	httpReq, err := http.NewRequestWithContext(sctx, http.MethodPost, c.url(path), bytes.NewReader(data))
	if err != nil {
		cancel(nil)
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	c.logger.Debug("opening stream",
		zap.String("url", httpReq.URL.String()),
		zap.Int("body_size", len(data)),
	)

	// Headers count against the idle bound too: a hung backend may never
	// answer at all.
	var headerTimer *time.Timer
	if c.idleTimeout > 0 {
		idle := c.idleTimeout
		headerTimer = time.AfterFunc(idle, func() { cancel(&TimeoutError{Idle: idle}) })
	}

	httpResp, err := c.httpClient.Do(httpReq)
	timedOut := headerTimer != nil && !headerTimer.Stop()
	if err != nil {
		if sctx.Err() != nil {
			err = context.Cause(sctx)
		} else {
			err = &TransportError{Err: err}
		}
		cancel(nil)
		return nil, err
	}
	if timedOut {
		httpResp.Body.Close()
		err := context.Cause(sctx)
		cancel(nil)
		return nil, err
	}

	if err := checkStatus(httpResp); err != nil {
		httpResp.Body.Close()
		cancel(nil)
		c.logger.Debug("stream rejected", zap.Error(err))
		return nil, err
	}

	if httpResp.Body == nil || httpResp.Body == http.NoBody {
		cancel(nil)
		return nil, ErrStreamUnavailable
	}

	s := &Stream[R]{
		parent:           ctx,
		ctx:              sctx,
		cancel:           cancel,
		body:             httpResp.Body,
		reads:            make(chan readResult),
		logger:           c.logger,
		idle:             c.idleTimeout,
		acceptIncomplete: c.acceptIncomplete,
	}
	go s.pump()
	return s, nil
}

// pump moves raw chunks from the body to the stream. The channel is
// unbuffered, so at most one chunk is read ahead of the consumer.
func (s *Stream[R]) pump() {
	defer close(s.reads)

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.body.Read(buf)
		if n == 0 && err == nil {
			continue
		}

		res := readResult{err: err}
		if n > 0 {
			res.data = append([]byte(nil), buf[:n]...)
		}

		select {
		case s.reads <- res:
		case <-s.ctx.Done():
			return
		}

		if err != nil {
			return
		}
	}
}

// Next advances to the next record. It returns false when the stream has
// completed or failed; Err tells the two apart. Cancellation of the context
// is checked before every record, so nothing is returned after it.
func (s *Stream[R]) Next() bool {
	for !s.finished {
		if s.ctx.Err() != nil {
			s.fail(context.Cause(s.ctx))
			return false
		}

		if line, ok := s.lines.next(s.eof); ok {
			if s.decode(line) {
				return true
			}
			continue
		}

		if s.eof {
			s.endOfStream()
			return false
		}

		s.fill()
	}
	return false
}

// decode parses one line. Lines that are not JSON objects, or that carry
// none of the record keys, are logged and skipped. An "error" line ends the
// stream with a StreamError.
func (s *Stream[R]) decode(line []byte) bool {
	if len(line) == 0 {
		return false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		s.skip(line, err)
		return false
	}
	if fields == nil {
		s.skip(line, errNotRecord)
		return false
	}

	if raw, ok := fields["error"]; ok {
		s.skipped++
		s.fail(&StreamError{Message: errorText(raw), Partial: s.acc.String(), Records: s.records})
		return false
	}

	var rec R
	if !hasAnyKey(fields, rec.RecordKeys()) {
		s.skip(line, errNotRecord)
		return false
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		s.skip(line, err)
		return false
	}

	s.cur = rec
	s.last = rec
	s.records++
	s.acc.WriteString(rec.Text())

	if rec.Final() {
		s.completed = true
		s.finish()
		s.logger.Debug("stream complete",
			zap.Int("records", s.records),
			zap.Int("skipped", s.skipped),
			zap.String("content_preview", truncate(s.acc.String(), 100)),
		)
	}
	return true
}

func (s *Stream[R]) skip(line []byte, err error) {
	s.skipped++
	s.logger.Warn("failed to parse stream record",
		zap.Error(err),
		zap.String("line", truncate(string(line), 100)),
	)
}

func hasAnyKey(fields map[string]json.RawMessage, keys []string) bool {
	for _, k := range keys {
		if raw, ok := fields[k]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return true
		}
	}
	return false
}

// errorText returns the "error" value as a string, or its raw JSON when it
// is not one.
func errorText(raw json.RawMessage) string {
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil && msg != "" {
		return msg
	}
	return string(bytes.TrimSpace(raw))
}

// fill waits for the next chunk from the transport. This is the only place
// a stream suspends.
func (s *Stream[R]) fill() {
	var timeout <-chan time.Time
	if s.idle > 0 {
		t := time.NewTimer(s.idle)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case res, ok := <-s.reads:
		if !ok {
			s.eof = true
			return
		}
		if len(res.data) > 0 {
			s.lines.write(res.data)
		}
		switch {
		case res.err == nil:
		case errors.Is(res.err, io.EOF):
			s.eof = true
		case s.ctx.Err() != nil:
			s.fail(context.Cause(s.ctx))
		default:
			s.fail(&TransportError{Err: res.err})
		}
	case <-s.ctx.Done():
		s.fail(context.Cause(s.ctx))
	case <-timeout:
		s.fail(&TimeoutError{Idle: s.idle})
	}
}

func (s *Stream[R]) endOfStream() {
	if s.acceptIncomplete {
		s.logger.Warn("stream closed without final record, accepting partial response",
			zap.Int("records", s.records),
		)
		s.completed = true
		s.finish()
		return
	}

	s.fail(&IncompleteStreamError{Partial: s.acc.String(), Records: s.records})
}

func (s *Stream[R]) fail(err error) {
	if s.finished {
		return
	}
	s.err = err
	s.logger.Debug("stream failed",
		zap.Error(err),
		zap.Int("records", s.records),
		zap.Int("unparsed_bytes", s.lines.buffered()),
	)
	s.finish()
}

// finish stops all further reads.
func (s *Stream[R]) finish() {
	if s.finished {
		return
	}
	s.finished = true
	s.cancel(nil)
	_ = s.body.Close()
}

// Record returns the record produced by the last successful call to Next.
func (s *Stream[R]) Record() R { return s.cur }

// Text returns the incremental text of the current record.
func (s *Stream[R]) Text() string { return s.cur.Text() }

// Content returns the text accumulated so far. Once Completed reports true it
// is the full response.
func (s *Stream[R]) Content() string { return s.acc.String() }

// Last returns the last record decoded. After completion it is the final
// record, which carries the response metrics.
func (s *Stream[R]) Last() R { return s.last }

// Completed reports whether the stream reached a final record (or ended and
// was accepted as complete).
func (s *Stream[R]) Completed() bool { return s.completed }

// Records returns the number of records decoded.
func (s *Stream[R]) Records() int { return s.records }

// Skipped returns the number of lines that failed to parse.
func (s *Stream[R]) Skipped() int { return s.skipped }

// Err returns the error that ended the stream, or nil if it completed or is
// still open.
func (s *Stream[R]) Err() error { return s.err }

// Close abandons the stream. Records not yet read are discarded.
func (s *Stream[R]) Close() error {
	s.finish()
	return nil
}

// drain runs a stream to its end, calling onChunk for each record and
// onComplete once with the full text if the stream completes.
func drain[R Record](s *Stream[R], onChunk, onComplete func(string)) error {
	defer s.Close()

	for s.Next() {
		if onChunk != nil {
			onChunk(s.Text())
		}
	}

	if err := s.Err(); err != nil {
		return err
	}

	// Cancelled after the final record was read but before delivery.
	if s.parent.Err() != nil {
		return context.Cause(s.parent)
	}

	if onComplete != nil {
		onComplete(s.Content())
	}
	return nil
}
