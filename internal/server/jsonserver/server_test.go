package jsonserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ambientd/internal/bus"
	"ambientd/internal/mux"
)

type stubRouter struct {
	pushed chan mux.InputMessage
}

func (r *stubRouter) Register(name, origin string, perm mux.Permissions) (mux.SourceID, error) {
	return mux.SourceID("json#1"), nil
}

func (r *stubRouter) Push(source mux.SourceID, msg mux.InputMessage, now time.Time) error {
	r.pushed <- msg
	return nil
}

func TestServerHandlesColorCommand(t *testing.T) {
	b := bus.New()
	router := &stubRouter{pushed: make(chan mux.InputMessage, 4)}
	b.BindInstance("inst", router)

	s := &Server{InstanceID: "inst", Bus: b}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handleConn(ctx, conn)
		}
	}()
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	req := map[string]any{"command": "color", "tan": 1, "priority": 50, "color": []int{10, 20, 30}}
	data, _ := json.Marshal(req)
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	var rep reply
	require.NoError(t, json.Unmarshal([]byte(line), &rep))
	require.True(t, rep.Success)

	select {
	case msg := <-router.pushed:
		sc, ok := msg.(mux.SolidColor)
		require.True(t, ok)
		require.Equal(t, mux.Priority(50), sc.Priority)
	case <-time.After(time.Second):
		t.Fatal("expected pushed message")
	}
}
