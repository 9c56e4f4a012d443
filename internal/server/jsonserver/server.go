// Package jsonserver implements the JSON protocol server (§4.13, §6):
// newline-delimited UTF-8 request objects over TCP, request/response
// correlated by a client-supplied "tan" value. Uses bytedance/sonic for
// JSON encode/decode, the same codec gin itself can be configured with,
// for ecosystem parity rather than stdlib encoding/json.
package jsonserver

import (
	"bufio"
	"context"
	"encoding/base64"
	"net"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"ambientd/internal/apperror"
	"ambientd/internal/bus"
	"ambientd/internal/color"
	"ambientd/internal/mux"
)

// DefaultPort is the JSON protocol's default TCP port (§6).
const DefaultPort = 19444

// IdleTimeout bounds how long a connection may sit without sending a
// complete request line before it is closed (§5).
const IdleTimeout = 2 * time.Minute

// request is the superset of fields any supported command may carry.
type request struct {
	Command string `json:"command"`
	Tan     int    `json:"tan"`

	Priority   int            `json:"priority"`
	Duration   int            `json:"duration"` // milliseconds, 0 = no expiry
	Color      []int          `json:"color"`
	ImageWidth  int            `json:"imagewidth"`
	ImageHeight int            `json:"imageheight"`
	ImageData   string         `json:"imagedata"` // base64-encoded RGB buffer
	Name        string         `json:"name"`
	Args       map[string]any `json:"args"`
	Component  string         `json:"component"`
	State      bool           `json:"state"`
	Token      string         `json:"token"`
}

type reply struct {
	Command string `json:"command"`
	Tan     int    `json:"tan"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Info    any    `json:"info,omitempty"`
}

// Server accepts JSON protocol connections and routes them, via the
// global bus, to a single bound instance.
type Server struct {
	InstanceID string
	Bus        *bus.Bus
	Log        *zap.Logger
}

// ListenAndServe listens on addr (host:port) and serves connections
// until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				if s.Log != nil {
					s.Log.Warn("json server accept failed", zap.Error(err))
				}
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	origin := conn.RemoteAddr().String()

	source, err := s.Bus.Register(s.InstanceID, "json-client", origin, mux.Permissions{MinPriority: 0, MaxPriority: mux.Background})
	if err != nil {
		if s.Log != nil {
			s.Log.Warn("json server register failed", zap.Error(err))
		}
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(IdleTimeout))
		if !scanner.Scan() {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := sonic.Unmarshal(line, &req); err != nil {
			if s.Log != nil {
				s.Log.Debug("malformed json frame", zap.Error(apperror.New(apperror.KindProtocol, "jsonserver.decode", apperror.ErrProtocolMalformed)))
			}
			writeReply(conn, reply{Success: false, Error: "malformed json"})
			continue
		}
		rep := s.dispatch(source, req)
		writeReply(conn, rep)
	}
}

func writeReply(conn net.Conn, rep reply) {
	data, err := sonic.Marshal(rep)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

func (s *Server) dispatch(source mux.SourceID, req request) reply {
	rep := reply{Command: req.Command, Tan: req.Tan, Success: true}

	var msg mux.InputMessage
	switch req.Command {
	case "serverinfo":
		rep.Info = map[string]any{"instance": s.InstanceID}
		return rep

	case "clearall":
		msg = mux.ClearAll{}

	case "clear":
		msg = mux.Clear{Priority: mux.Priority(req.Priority)}

	case "color":
		if len(req.Color) != 3 {
			rep.Success = false
			rep.Error = "color requires [r,g,b]"
			return rep
		}
		c := color.RGB{R: byte(req.Color[0]), G: byte(req.Color[1]), B: byte(req.Color[2])}
		msg = mux.SolidColor{Priority: mux.Priority(req.Priority), Duration: durationPtr(req.Duration), Color: c}

	case "image":
		data, err := base64.StdEncoding.DecodeString(req.ImageData)
		if err != nil {
			rep.Success = false
			rep.Error = "malformed imagedata"
			return rep
		}
		msg = mux.Image{
			Priority: mux.Priority(req.Priority),
			Duration: durationPtr(req.Duration),
			Width:    req.ImageWidth,
			Height:   req.ImageHeight,
			Buffer:   data,
		}

	case "effect":
		msg = mux.Effect{Priority: mux.Priority(req.Priority), Name: req.Name, Args: req.Args, Duration: durationPtr(req.Duration)}

	case "adjustment", "componentstate":
		msg = mux.ComponentState{Component: mux.Component(req.Component), Enabled: req.State}

	case "authorize":
		rep.Info = map[string]any{"authorized": req.Token != ""}
		return rep

	default:
		rep.Success = false
		rep.Error = "unknown command"
		return rep
	}

	if err := s.Bus.Push(s.InstanceID, source, msg, time.Now()); err != nil {
		rep.Success = false
		rep.Error = err.Error()
	}
	return rep
}

func durationPtr(ms int) *time.Duration {
	if ms <= 0 {
		return nil
	}
	d := time.Duration(ms) * time.Millisecond
	return &d
}
