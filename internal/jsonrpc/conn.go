package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"codemode/internal/errors"
	"codemode/internal/logging"
)

// Conn is the client side of a newline-delimited JSON-RPC connection.
// Responses are routed back to callers by request ID, so calls may be
// issued concurrently even though the kernel answers in order.
type Conn struct {
	writer io.Writer
	wmu    sync.Mutex

	idGen   IDGenerator
	pending map[any]chan *Response
	mu      sync.RWMutex

	logger logging.Logger
	done   chan struct{}
}

// NewConn wraps a reader/writer pair and starts the read loop. The caller
// retains ownership of the underlying pipes.
func NewConn(r io.Reader, w io.Writer, logger logging.Logger) *Conn {
	c := &Conn{
		writer:  w,
		pending: make(map[any]chan *Response),
		logger:  logging.OrNop(logger),
		done:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

// Done is closed when the read loop exits, which means the peer is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Call sends a request and decodes the result into result (which may be nil).
// A server-reported error is returned as *RPCError; transport failures carry
// the TransportError kind.
func (c *Conn) Call(ctx context.Context, method string, params any, result any) error {
	id := c.idGen.Next()
	req, err := NewRequest(id, method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(errors.KindTransport, err, "marshal request")
	}
	data = append(data, '\n')

	respChan := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[id] = respChan
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.logger.Debug("Sending request: method=%s, id=%v", method, id)
	if err := c.write(data); err != nil {
		return errors.Wrap(errors.KindTransport, err, "write request")
	}

	select {
	case resp := <-respChan:
		if resp.IsError() {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return errors.Wrap(errors.KindTransport, err, "decode result for %s", method)
			}
		}
		return nil
	case <-c.done:
		return errors.New(errors.KindTransport, "connection closed while waiting for %s", method)
	case <-ctx.Done():
		return errors.Wrap(errors.KindTransport, ctx.Err(), "request cancelled")
	}
}

// Notify sends a notification; no response is expected.
func (c *Conn) Notify(method string, params any) error {
	req, err := NewRequest(nil, method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(errors.KindTransport, err, "marshal notification")
	}
	c.logger.Debug("Sending notification: method=%s", method)
	return c.write(append(data, '\n'))
}

func (c *Conn) write(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.writer.Write(data)
	return err
}

func (c *Conn) readLoop(r io.Reader) {
	defer close(c.done)

	scanner := bufio.NewScanner(r)
	// Large buffer: execution results carry captured stdout.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp, err := UnmarshalResponse(line)
		if err != nil {
			c.logger.Error("Failed to unmarshal response: %v", err)
			continue
		}

		c.mu.RLock()
		ch, ok := c.pending[resp.ID]
		c.mu.RUnlock()
		if !ok {
			c.logger.Warn("No pending call for response: id=%v", resp.ID)
			continue
		}
		select {
		case ch <- resp:
		default:
			c.logger.Warn("Response channel full, dropping response: id=%v", resp.ID)
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Error("Read loop error: %v", err)
	}
	c.logger.Debug("Read loop exited")
}
