package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"codemode/internal/logging"
)

// Handler processes one request and returns either a result or an RPC error.
type Handler func(ctx context.Context, method string, params json.RawMessage) (any, *RPCError)

// Serve reads newline-delimited requests from r and writes responses to w.
// Requests are handled strictly in order on a single goroutine, which gives
// the kernel channel its in-order request/response guarantee. Serve returns
// when r reaches EOF or ctx is cancelled.
func Serve(ctx context.Context, r io.Reader, w io.Writer, logger logging.Logger, handle Handler) error {
	logger = logging.OrNop(logger)

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 8*1024*1024)

	out := bufio.NewWriter(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		req, err := UnmarshalRequest(line)
		if err != nil {
			rpcErr, _ := err.(*RPCError)
			if rpcErr == nil {
				rpcErr = &RPCError{Code: CodeParseError, Message: err.Error()}
			}
			if werr := writeResponse(out, NewErrorResponse(nil, rpcErr.Code, rpcErr.Message, rpcErr.Data)); werr != nil {
				return werr
			}
			continue
		}

		result, rpcErr := handle(ctx, req.Method, req.Params)
		if req.IsNotification() {
			continue
		}

		var resp *Response
		if rpcErr != nil {
			resp = NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		} else {
			resp, err = NewResponse(req.ID, result)
			if err != nil {
				logger.Error("Failed to marshal result for %s: %v", req.Method, err)
				resp = NewErrorResponse(req.ID, CodeInternalError, "failed to marshal result", err.Error())
			}
		}
		if err := writeResponse(out, resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func writeResponse(w *bufio.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return err
	}
	return w.Flush()
}
