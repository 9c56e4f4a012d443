// Package flatbufserver implements the Flatbuffers protocol server
// (§4.13, §6): a 4-byte big-endian length prefix followed by a
// flatbuffer, built and read directly against flatbuffers.Builder and
// flatbuffers.Table (no flatc available in this exercise, so the
// generated-code pattern is written by hand against documented field
// indices).
package flatbufserver

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"go.uber.org/zap"

	"ambientd/internal/apperror"
	"ambientd/internal/bus"
	"ambientd/internal/color"
	"ambientd/internal/mux"
)

// DefaultPort is the flatbuffers protocol's default TCP port (§6).
const DefaultPort = 19446

// Command enumerates the request table's command field.
type Command byte

const (
	CommandRegister Command = iota
	CommandColor
	CommandImage
	CommandClear
)

// Request field indices (vtable slot numbers, not byte offsets).
const (
	reqFieldCommand = 0
	reqFieldPriority = 1
	reqFieldDuration = 2
	reqFieldColorR   = 3
	reqFieldColorG   = 4
	reqFieldColorB   = 5
	reqFieldWidth    = 6
	reqFieldHeight   = 7
	reqFieldData     = 8
	reqFieldName     = 9
	reqFieldOrigin   = 10
	reqNumFields     = 11
)

// Reply field indices.
const (
	replyFieldSuccess    = 0
	replyFieldError      = 1
	replyFieldRegistered = 2
	replyNumFields       = 3
)

// Request is the decoded view of an incoming request table.
type Request struct {
	Command  Command
	Priority uint8
	Duration uint32
	R, G, B  uint8
	Width    int32
	Height   int32
	Data     []byte
	Name     string
	Origin   string
}

// ReadRequest parses a Request out of a flatbuffer-encoded table.
func ReadRequest(buf []byte) Request {
	var t flatbuffers.Table
	n := flatbuffers.GetUOffsetT(buf)
	t.Bytes = buf
	t.Pos = n

	var req Request
	if o := t.Offset(flatbuffers.VOffsetT((reqFieldCommand + 2) * 2)); o != 0 {
		req.Command = Command(t.GetByte(t.Pos + o))
	}
	if o := t.Offset(flatbuffers.VOffsetT((reqFieldPriority + 2) * 2)); o != 0 {
		req.Priority = t.GetUint8(t.Pos + o)
	}
	if o := t.Offset(flatbuffers.VOffsetT((reqFieldDuration + 2) * 2)); o != 0 {
		req.Duration = t.GetUint32(t.Pos + o)
	}
	if o := t.Offset(flatbuffers.VOffsetT((reqFieldColorR + 2) * 2)); o != 0 {
		req.R = t.GetUint8(t.Pos + o)
	}
	if o := t.Offset(flatbuffers.VOffsetT((reqFieldColorG + 2) * 2)); o != 0 {
		req.G = t.GetUint8(t.Pos + o)
	}
	if o := t.Offset(flatbuffers.VOffsetT((reqFieldColorB + 2) * 2)); o != 0 {
		req.B = t.GetUint8(t.Pos + o)
	}
	if o := t.Offset(flatbuffers.VOffsetT((reqFieldWidth + 2) * 2)); o != 0 {
		req.Width = t.GetInt32(t.Pos + o)
	}
	if o := t.Offset(flatbuffers.VOffsetT((reqFieldHeight + 2) * 2)); o != 0 {
		req.Height = t.GetInt32(t.Pos + o)
	}
	if o := t.Offset(flatbuffers.VOffsetT((reqFieldData + 2) * 2)); o != 0 {
		req.Data = append([]byte(nil), t.ByteVector(t.Pos+o)...)
	}
	if o := t.Offset(flatbuffers.VOffsetT((reqFieldName + 2) * 2)); o != 0 {
		req.Name = string(t.ByteVector(t.Pos + o))
	}
	if o := t.Offset(flatbuffers.VOffsetT((reqFieldOrigin + 2) * 2)); o != 0 {
		req.Origin = string(t.ByteVector(t.Pos + o))
	}
	return req
}

// BuildRequest encodes a Request table into a finished flatbuffer;
// exercised by the protocol server's own tests as a stand-in for a real
// client encoder.
func BuildRequest(req Request) []byte {
	b := flatbuffers.NewBuilder(128)

	var nameOff, originOff, dataOff flatbuffers.UOffsetT
	if req.Name != "" {
		nameOff = b.CreateString(req.Name)
	}
	if req.Origin != "" {
		originOff = b.CreateString(req.Origin)
	}
	if len(req.Data) > 0 {
		dataOff = b.CreateByteVector(req.Data)
	}

	b.StartObject(reqNumFields)
	b.PrependByteSlot(reqFieldCommand, byte(req.Command), 0)
	b.PrependUint8Slot(reqFieldPriority, req.Priority, 0)
	b.PrependUint32Slot(reqFieldDuration, req.Duration, 0)
	b.PrependUint8Slot(reqFieldColorR, req.R, 0)
	b.PrependUint8Slot(reqFieldColorG, req.G, 0)
	b.PrependUint8Slot(reqFieldColorB, req.B, 0)
	b.PrependInt32Slot(reqFieldWidth, req.Width, 0)
	b.PrependInt32Slot(reqFieldHeight, req.Height, 0)
	if dataOff != 0 {
		b.PrependUOffsetTSlot(reqFieldData, dataOff, 0)
	}
	if nameOff != 0 {
		b.PrependUOffsetTSlot(reqFieldName, nameOff, 0)
	}
	if originOff != 0 {
		b.PrependUOffsetTSlot(reqFieldOrigin, originOff, 0)
	}
	root := b.EndObject()
	b.Finish(root)
	return b.FinishedBytes()
}

// BuildReply encodes a Reply table into a finished flatbuffer.
func BuildReply(success bool, errMsg string, registered bool) []byte {
	b := flatbuffers.NewBuilder(64)

	var errOff flatbuffers.UOffsetT
	if errMsg != "" {
		errOff = b.CreateString(errMsg)
	}

	b.StartObject(replyNumFields)
	b.PrependBoolSlot(replyFieldSuccess, success, false)
	if errOff != 0 {
		b.PrependUOffsetTSlot(replyFieldError, errOff, 0)
	}
	b.PrependBoolSlot(replyFieldRegistered, registered, false)
	root := b.EndObject()

	b.Finish(root)
	return b.FinishedBytes()
}

// Server accepts length-prefixed flatbuffer connections and routes them
// to a single bound instance via the global bus.
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
	var source mux.SourceID

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
		req := ReadRequest(frame)

		if req.Command == CommandRegister {
			id, err := s.Bus.Register(s.InstanceID, req.Name, origin, mux.Permissions{MinPriority: 0, MaxPriority: mux.Background})
			if err != nil {
				writeFrame(conn, BuildReply(false, err.Error(), false))
				continue
			}
			source = id
			writeFrame(conn, BuildReply(true, "", true))
			continue
		}

		if source == "" {
			if s.Log != nil {
				s.Log.Debug("rejected frame from unregistered connection", zap.Error(apperror.New(apperror.KindPermission, "flatbufserver.handleConn", apperror.ErrPermissionDenied)))
			}
			writeFrame(conn, BuildReply(false, "not registered", false))
			continue
		}

		msg, ok := toInputMessage(req)
		if !ok {
			writeFrame(conn, BuildReply(false, "unknown command", false))
			continue
		}
		if err := s.Bus.Push(s.InstanceID, source, msg, time.Now()); err != nil {
			writeFrame(conn, BuildReply(false, err.Error(), false))
			continue
		}
		writeFrame(conn, BuildReply(true, "", false))
	}
}

func toInputMessage(req Request) (mux.InputMessage, bool) {
	var dur *time.Duration
	if req.Duration > 0 {
		d := time.Duration(req.Duration) * time.Millisecond
		dur = &d
	}
	switch req.Command {
	case CommandColor:
		return mux.SolidColor{Priority: mux.Priority(req.Priority), Duration: dur, Color: color.RGB{R: req.R, G: req.G, B: req.B}}, true
	case CommandImage:
		return mux.Image{Priority: mux.Priority(req.Priority), Duration: dur, Width: int(req.Width), Height: int(req.Height), Buffer: req.Data}, true
	case CommandClear:
		return mux.Clear{Priority: mux.Priority(req.Priority)}, true
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
