// Package rpc serves the agent over newline-delimited JSON-RPC 2.0.
//
// Each line read is one message. Requests are dispatched in arrival order;
// session/prompt hands its stream to a forwarding goroutine so the loop keeps
// reading (and can see session/cancel) while the turn runs. All writes go
// through one mutex so notifications and responses never interleave.
package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/HyphaGroup/acpbridge/internal/acp"
	"github.com/HyphaGroup/acpbridge/internal/logger"
	"github.com/HyphaGroup/acpbridge/internal/metrics"
	"github.com/HyphaGroup/acpbridge/internal/protocol"
	"github.com/HyphaGroup/acpbridge/internal/session"
	"github.com/HyphaGroup/acpbridge/internal/stream"
)

// MaxMessageSize bounds one inbound line.
const MaxMessageSize = 16 * 1024 * 1024

// Server is the protocol loop for one connection.
type Server struct {
	agent *acp.Agent
	in    io.Reader

	wmu sync.Mutex
	out io.Writer

	wg sync.WaitGroup
}

// NewServer creates a server reading requests from in and writing to out.
func NewServer(agent *acp.Agent, in io.Reader, out io.Writer) *Server {
	return &Server{agent: agent, in: in, out: out}
}

// Serve runs until in reaches EOF or ctx is done. Either way it cancels the
// prompts still running and waits for their final responses to be written.
// It returns nil on EOF.
func (s *Server) Serve(ctx context.Context) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		sc := bufio.NewScanner(s.in)
		sc.Buffer(make([]byte, 0, 64*1024), MaxMessageSize)
		for sc.Scan() {
			select {
			case lines <- bytes.Clone(sc.Bytes()):
			case <-stop:
				return
			}
		}
		readErr <- sc.Err()
	}()

	logger.Info("Serving ACP over stdio")
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case err := <-readErr:
			s.shutdown()
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			logger.Info("Input closed, protocol loop exiting")
			return nil
		case line := <-lines:
			s.handleLine(ctx, line)
		}
	}
}

func (s *Server) shutdown() {
	s.agent.CancelAll()
	s.wg.Wait()
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	msg, err := jsonrpc.DecodeMessage(line)
	if err != nil {
		code := int64(jsonrpc.CodeParseError)
		if json.Valid(line) {
			code = jsonrpc.CodeInvalidRequest
		}
		logger.Warn("Rejecting malformed message: %v", err)
		s.write(&jsonrpc.Response{Error: &jsonrpc.Error{Code: code, Message: err.Error()}})
		return
	}

	switch m := msg.(type) {
	case *jsonrpc.Request:
		s.dispatch(ctx, m)
	case *jsonrpc.Response:
		logger.DebugContext(ctx, "ignoring response from client", "id", m.ID.Raw())
	}
}

func (s *Server) dispatch(ctx context.Context, req *jsonrpc.Request) {
	start := time.Now()
	if req.IsCall() {
		ctx = logger.WithRequestID(ctx, fmt.Sprint(req.ID.Raw()))
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case protocol.MethodInitialize:
		var p protocol.InitializeRequest
		if p, err = acp.DecodeParams[protocol.InitializeRequest](req.Method, req.Params); err == nil {
			result = s.agent.Initialize(ctx, p)
		}

	case protocol.MethodSessionNew:
		var p protocol.NewSessionRequest
		if p, err = acp.DecodeParams[protocol.NewSessionRequest](req.Method, req.Params); err == nil {
			result, err = s.agent.NewSession(ctx, p)
		}

	case protocol.MethodSessionPrompt:
		var p protocol.PromptRequest
		if p, err = acp.DecodeParams[protocol.PromptRequest](req.Method, req.Params); err == nil {
			var st *stream.Stream
			if st, err = s.agent.Prompt(ctx, p); err == nil {
				s.wg.Add(1)
				go s.forward(ctx, req, st, start)
				return
			}
		}

	case protocol.MethodSessionCancel:
		var p protocol.CancelNotification
		if p, err = acp.DecodeParams[protocol.CancelNotification](req.Method, req.Params); err == nil {
			s.agent.Cancel(ctx, p.SessionID)
		}

	default:
		err = &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "method not found: " + req.Method}
	}

	s.finish(ctx, req, result, err, start)
}

// forward writes each update of st as a session/update notification, then
// answers the prompt request with the turn's stop reason.
func (s *Server) forward(ctx context.Context, req *jsonrpc.Request, st *stream.Stream, start time.Time) {
	defer s.wg.Done()

	for ev := range st.Events() {
		if ev.Kind != stream.KindUpdate {
			continue
		}
		s.notify(protocol.MethodSessionUpdate, protocol.SessionNotification{
			SessionID: st.SessionID(),
			Update:    ev.Update(),
		})
	}
	s.finish(ctx, req, protocol.PromptResponse{StopReason: st.StopReason()}, nil, start)
}

func (s *Server) finish(ctx context.Context, req *jsonrpc.Request, result any, err error, start time.Time) {
	status := "ok"
	if err != nil {
		status = "error"
		logger.WarnContext(ctx, "request failed", "method", req.Method, "error", err)
	}
	metrics.RecordRequest(req.Method, status, time.Since(start))

	if !req.IsCall() {
		return
	}
	if err != nil {
		s.write(&jsonrpc.Response{ID: req.ID, Error: wireError(err)})
		return
	}
	data, merr := json.Marshal(result)
	if merr != nil {
		s.write(&jsonrpc.Response{ID: req.ID, Error: wireError(merr)})
		return
	}
	s.write(&jsonrpc.Response{ID: req.ID, Result: data})
}

func (s *Server) notify(method string, params any) {
	data, err := json.Marshal(params)
	if err != nil {
		logger.Error("Failed to encode %s notification: %v", method, err)
		return
	}
	s.write(&jsonrpc.Request{Method: method, Params: data})
}

func (s *Server) write(msg jsonrpc.Message) {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		logger.Error("Failed to encode message: %v", err)
		return
	}
	data = append(data, '\n')

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		logger.Error("Failed to write message: %v", err)
	}
}

// wireError maps an operation error to a JSON-RPC error object.
func wireError(err error) *jsonrpc.Error {
	var we *jsonrpc.Error
	if errors.As(err, &we) {
		return we
	}
	code := int64(jsonrpc.CodeInternalError)
	var pe *acp.ParamsError
	if errors.As(err, &pe) || errors.Is(err, session.ErrSessionNotFound) {
		code = jsonrpc.CodeInvalidParams
	}
	return &jsonrpc.Error{Code: code, Message: err.Error()}
}
