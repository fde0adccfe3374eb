package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
)

// HandlerFunc executes one request. The returned value, if non-nil, is
// encoded into Response.Data.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

// Serve listens on socketPath and dispatches requests to handle until ctx is
// canceled, at which point it closes the listener and exits.
func Serve(ctx context.Context, socketPath string, handle HandlerFunc, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleConn(ctx, conn, handle, logger)
	}
}

func handleConn(ctx context.Context, conn net.Conn, handle HandlerFunc, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		resp := execute(ctx, []byte(line), handle)
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}

	logger.Debug("IPC connection closed")
}

func execute(ctx context.Context, line []byte, handle HandlerFunc) Response {
	req, err := UnmarshalRequest(line)
	if err != nil {
		return Response{Status: "error", Error: fmt.Sprintf("parse request: %v", err)}
	}

	out, err := handle(ctx, req)
	if err != nil {
		return Response{Status: "error", Error: err.Error()}
	}

	resp := Response{Status: "ok"}
	if out != nil {
		data, err := json.Marshal(out)
		if err != nil {
			return Response{Status: "error", Error: fmt.Sprintf("encode result: %v", err)}
		}
		resp.Data = data
	}
	return resp
}
