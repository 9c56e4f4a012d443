// Package protobufserver implements the Protobuf protocol server
// (§4.13, §6): a 4-byte big-endian length prefix followed by a message
// built directly against documented field numbers using
// google.golang.org/protobuf/encoding/protowire, since this exercise has
// no .proto/protoc pipeline available to generate real message types.
package protobufserver

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"go.uber.org/zap"

	"ambientd/internal/bus"
	"ambientd/internal/color"
	"ambientd/internal/mux"
)

// DefaultPort is the protobuf protocol's default TCP port (§6).
const DefaultPort = 19445

// Command enumerates the request's command field (field 1).
type Command int32

const (
	CommandColor Command = iota
	CommandImage
	CommandClear
	CommandClearAll
)

// Wire field numbers, documented here in lieu of a .proto source.
const (
	fieldCommand    = 1
	fieldPriority   = 2
	fieldDurationMs = 3
	fieldColorR     = 10
	fieldColorG     = 11
	fieldColorB     = 12
	fieldImageW     = 5
	fieldImageH     = 6
	fieldImageData  = 7

	fieldReplySuccess = 1
	fieldReplyError   = 2
)

type request struct {
	Command  Command
	Priority uint32
	Duration uint32
	R, G, B  uint32
	Width    uint32
	Height   uint32
	Image    []byte
}

func decodeRequest(b []byte) (request, error) {
	var req request
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return req, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldCommand:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return req, protowire.ParseError(n)
			}
			req.Command = Command(v)
			b = b[n:]
		case fieldPriority:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return req, protowire.ParseError(n)
			}
			req.Priority = uint32(v)
			b = b[n:]
		case fieldDurationMs:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return req, protowire.ParseError(n)
			}
			req.Duration = uint32(v)
			b = b[n:]
		case fieldColorR, fieldColorG, fieldColorB:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return req, protowire.ParseError(n)
			}
			switch num {
			case fieldColorR:
				req.R = uint32(v)
			case fieldColorG:
				req.G = uint32(v)
			case fieldColorB:
				req.B = uint32(v)
			}
			b = b[n:]
		case fieldImageW:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return req, protowire.ParseError(n)
			}
			req.Width = uint32(v)
			b = b[n:]
		case fieldImageH:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return req, protowire.ParseError(n)
			}
			req.Height = uint32(v)
			b = b[n:]
		case fieldImageData:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return req, protowire.ParseError(n)
			}
			req.Image = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return req, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return req, nil
}

func encodeReply(success bool, errMsg string) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldReplySuccess, protowire.VarintType)
	v := uint64(0)
	if success {
		v = 1
	}
	b = protowire.AppendVarint(b, v)
	if errMsg != "" {
		b = protowire.AppendTag(b, fieldReplyError, protowire.BytesType)
		b = protowire.AppendString(b, errMsg)
	}
	return b
}

// Server accepts length-prefixed protobuf connections and routes them to
// a single bound instance via the global bus.
type Server struct {
	InstanceID string
	Bus        *bus.Bus
	Log        *zap.Logger
}

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
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	origin := conn.RemoteAddr().String()
	source, err := s.Bus.Register(s.InstanceID, "protobuf-client", origin, mux.Permissions{MinPriority: 0, MaxPriority: mux.Background})
	if err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		frame, err := readFrame(conn)
		if err != nil {
			return
		}
		req, err := decodeRequest(frame)
		if err != nil {
			writeFrame(conn, encodeReply(false, "malformed frame"))
			continue
		}
		msg, ok := toInputMessage(req)
		if !ok {
			writeFrame(conn, encodeReply(false, "unknown command"))
			continue
		}
		if err := s.Bus.Push(s.InstanceID, source, msg, time.Now()); err != nil {
			writeFrame(conn, encodeReply(false, err.Error()))
			continue
		}
		writeFrame(conn, encodeReply(true, ""))
	}
}

func toInputMessage(req request) (mux.InputMessage, bool) {
	var dur *time.Duration
	if req.Duration > 0 {
		d := time.Duration(req.Duration) * time.Millisecond
		dur = &d
	}
	switch req.Command {
	case CommandColor:
		return mux.SolidColor{Priority: mux.Priority(req.Priority), Duration: dur, Color: color.RGB{R: byte(req.R), G: byte(req.G), B: byte(req.B)}}, true
	case CommandImage:
		return mux.Image{Priority: mux.Priority(req.Priority), Duration: dur, Width: int(req.Width), Height: int(req.Height), Buffer: req.Image}, true
	case CommandClear:
		return mux.Clear{Priority: mux.Priority(req.Priority)}, true
	case CommandClearAll:
		return mux.ClearAll{}, true
	default:
		return nil, false
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, payload []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	_, _ = w.Write(lenBuf[:])
	_, _ = w.Write(payload)
}
