// Package boblight implements the Boblight protocol server (§4.13, §6):
// newline-delimited ASCII tokens over TCP. No third-party framing
// library fits a bespoke ASCII protocol like this one, so it stays on
// bufio/strings (documented in DESIGN.md) rather than reaching for a
// parser library built for a structured format.
package boblight

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ambientd/internal/bus"
	"ambientd/internal/color"
	"ambientd/internal/mux"
)

// DefaultPriority is the fixed priority boblight clients push at; the
// protocol has no concept of priority, so every light update arrives at
// one slot (§6).
const DefaultPriority = mux.Priority(128)

const protocolVersion = "5"

// Server accepts Boblight connections and routes them to a single bound
// instance via the global bus.
type Server struct {
	InstanceID string
	Bus        *bus.Bus
	LightCount int
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

	source, err := s.Bus.Register(s.InstanceID, "boblight-client", origin, mux.Permissions{MinPriority: DefaultPriority, MaxPriority: DefaultPriority})
	if err != nil {
		return
	}

	lights := make([]color.RGB, s.LightCount)
	scanner := bufio.NewScanner(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.handleLine(conn, source, line, lights)
	}
}

func (s *Server) handleLine(conn net.Conn, source mux.SourceID, line string, lights []color.RGB) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "hello":
		fmt.Fprintf(conn, "hello\n")

	case "ping":
		fmt.Fprintf(conn, "ping 1\n")

	case "get":
		if len(fields) < 2 {
			return
		}
		switch fields[1] {
		case "version":
			fmt.Fprintf(conn, "version %s\n", protocolVersion)
		case "lights":
			fmt.Fprintf(conn, "lights %d\n", len(lights))
			for i := range lights {
				fmt.Fprintf(conn, "light %03d scan 0.000000 0.000000 100.000000 100.000000\n", i)
			}
		}

	case "set":
		if len(fields) < 2 {
			return
		}
		switch fields[1] {
		case "light":
			s.handleSetLight(fields, lights)
		case "priority":
			// accepted, ignored: boblight priority is global-fixed here.
		}

	case "sync":
		msg := mux.LedColors{Priority: DefaultPriority, Colors: append([]color.RGB(nil), lights...)}
		_ = s.Bus.Push(s.InstanceID, source, msg, time.Now())
	}
}

// handleSetLight parses "set light N rgb r g b" (r/g/b as 0.0-1.0 floats,
// the Boblight wire convention).
func (s *Server) handleSetLight(fields []string, lights []color.RGB) {
	if len(fields) < 6 || fields[3] != "rgb" {
		return
	}
	idx, err := strconv.Atoi(fields[2])
	if err != nil || idx < 0 || idx >= len(lights) {
		return
	}
	r, errR := strconv.ParseFloat(fields[4], 64)
	g, errG := strconv.ParseFloat(fields[5], 64)
	var b float64
	var errB error
	if len(fields) > 6 {
		b, errB = strconv.ParseFloat(fields[6], 64)
	}
	if errR != nil || errG != nil || errB != nil {
		return
	}
	lights[idx] = color.FromFloat(color.Float{R: r, G: g, B: b})
}
