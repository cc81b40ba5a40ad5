package api

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
)

// Stream is the push transport over the server's SSE endpoint. One stream per
// topic; Subscribe and Unsubscribe are idempotent. A connection dropped by the
// server is re-established with backoff until Unsubscribe.
type Stream struct {
	c     *Client
	httpc *http.Client

	reconnectBase time.Duration
	reconnectMax  time.Duration

	mu   sync.Mutex
	subs map[string]*streamSub
}

type streamSub struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *Client) Stream() *Stream {
	return &Stream{
		c:             c,
		httpc:         &http.Client{},
		reconnectBase: 500 * time.Millisecond,
		reconnectMax:  15 * time.Second,
		subs:          make(map[string]*streamSub),
	}
}

func (s *Stream) WithReconnect(base, max time.Duration) *Stream {
	if base > 0 {
		s.reconnectBase = base
	}
	if max > 0 {
		s.reconnectMax = max
	}
	return s
}

// Subscribe returns after the server accepted the stream. ctx bounds only the
// connect; the stream itself lives until Unsubscribe.
func (s *Stream) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	orderID, err := orderFromTopic(topic)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	body, err := s.connect(subCtx, orderID)
	stop()
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &streamSub{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	prev := s.subs[topic]
	s.subs[topic] = sub
	s.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	out := make(chan []byte, 16)
	go s.run(subCtx, sub, orderID, body, out)
	return out, nil
}

func (s *Stream) Unsubscribe(topic string) error {
	s.mu.Lock()
	sub := s.subs[topic]
	delete(s.subs, topic)
	s.mu.Unlock()
	if sub != nil {
		sub.stop()
	}
	return nil
}

func (s *streamSub) stop() {
	s.cancel()
	<-s.done
}

func (s *Stream) run(ctx context.Context, sub *streamSub, orderID int64, body io.ReadCloser, out chan<- []byte) {
	defer close(sub.done)
	defer close(out)

	for {
		err := readEvents(ctx, body, out)
		_ = body.Close()
		if ctx.Err() != nil {
			return
		}
		slog.Warn("tracking stream dropped", "order_id", orderID, "subscription_id", sub.id, "error", errString(err))

		backoff := retry.WithCappedDuration(s.reconnectMax, retry.NewExponential(s.reconnectBase))
		err = retry.Do(ctx, backoff, func(ctx context.Context) error {
			b, err := s.connect(ctx, orderID)
			if err != nil {
				return retry.RetryableError(err)
			}
			body = b
			return nil
		})
		if err != nil {
			return
		}
		slog.Info("tracking stream reconnected", "order_id", orderID, "subscription_id", sub.id)
	}
}

func (s *Stream) connect(ctx context.Context, orderID int64) (io.ReadCloser, error) {
	path := fmt.Sprintf("/v1/orders/%d/stream", orderID)
	op := "GET " + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.c.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "text/event-stream")
	s.c.authorize(req)

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	if err := checkResponse(op, resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// readEvents forwards the data of each event until the body ends. Only the
// data field matters here; ids and event names are informational.
func readEvents(ctx context.Context, body io.Reader, out chan<- []byte) error {
	r := bufio.NewReader(body)
	var data []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(data) == 0 {
				continue
			}
			payload := []byte(strings.Join(data, "\n"))
			data = data[:0]
			select {
			case out <- payload:
			case <-ctx.Done():
				return ctx.Err()
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

func orderFromTopic(topic string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(topic, "tracking:order:%d", &id); err != nil || id <= 0 {
		return 0, errors.Errorf("unsupported topic %q", topic)
	}
	return id, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
