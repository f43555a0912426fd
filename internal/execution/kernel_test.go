package execution

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"codemode/internal/jsonrpc"
	"codemode/internal/logging"
	"codemode/internal/store"
)

// kernelConn runs a kernel over in-memory pipes and returns the client side.
func kernelConn(t *testing.T) *jsonrpc.Conn {
	t.Helper()

	clientReader, kernelWriter := io.Pipe()
	kernelReader, clientWriter := io.Pipe()

	kernel := NewKernel(logging.Nop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = kernel.Serve(context.Background(), kernelReader, kernelWriter)
	}()
	t.Cleanup(func() {
		_ = clientWriter.Close()
		_ = clientReader.Close()
		<-done
	})

	return jsonrpc.NewConn(clientReader, clientWriter, logging.Nop())
}

func bootstrapKernel(t *testing.T, conn *jsonrpc.Conn) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, conn.Call(ctx, methodPing, nil, nil))

	params := BootstrapParams{
		Access: store.Access{Type: store.TypeFile, BasePath: t.TempDir()},
	}
	var reply okReply
	require.NoError(t, conn.Call(ctx, methodBootstrap, params, &reply))
	require.True(t, reply.OK)
}

func TestKernelExecuteRoundTrip(t *testing.T) {
	conn := kernelConn(t)
	bootstrapKernel(t, conn)
	ctx := context.Background()

	var result Result
	require.NoError(t, conn.Call(ctx, methodExecute, ExecuteParams{Code: "1 + 1"}, &result))
	require.Nil(t, result.Error)
	// Values cross the wire as JSON, so numbers arrive as float64.
	require.Equal(t, float64(2), result.Value)
}

func TestKernelStatePersistsAndResets(t *testing.T) {
	conn := kernelConn(t)
	bootstrapKernel(t, conn)
	ctx := context.Background()

	var result Result
	require.NoError(t, conn.Call(ctx, methodExecute, ExecuteParams{Code: "x = 5"}, &result))
	require.Nil(t, result.Error)

	require.NoError(t, conn.Call(ctx, methodExecute, ExecuteParams{Code: "x"}, &result))
	require.Nil(t, result.Error)
	require.Equal(t, float64(5), result.Value)

	var reply okReply
	require.NoError(t, conn.Call(ctx, methodReset, nil, &reply))
	require.True(t, reply.OK)

	require.NoError(t, conn.Call(ctx, methodExecute, ExecuteParams{Code: "x"}, &result))
	require.NotNil(t, result.Error)
	require.Equal(t, "RuntimeError", result.Error.Kind)
}

func TestKernelRejectsExecuteBeforeBootstrap(t *testing.T) {
	conn := kernelConn(t)
	ctx := context.Background()

	var result Result
	err := conn.Call(ctx, methodExecute, ExecuteParams{Code: "1"}, &result)
	require.Error(t, err)
	rpcErr, ok := err.(*jsonrpc.RPCError)
	require.True(t, ok, "got %T", err)
	require.Equal(t, "ExecutorUnavailable", rpcErr.Data)
}

func TestKernelUserErrorStaysInResult(t *testing.T) {
	conn := kernelConn(t)
	bootstrapKernel(t, conn)

	var result Result
	require.NoError(t, conn.Call(context.Background(), methodExecute, ExecuteParams{Code: "1 // 0"}, &result))
	require.NotNil(t, result.Error)
	require.Equal(t, "RuntimeError", result.Error.Kind)
}
