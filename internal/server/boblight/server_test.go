package boblight

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambientd/internal/bus"
	"ambientd/internal/mux"
)

type stubRouter struct {
	pushed chan mux.InputMessage
}

func (r *stubRouter) Register(name, origin string, perm mux.Permissions) (mux.SourceID, error) {
	return mux.SourceID("bob#1"), nil
}

func (r *stubRouter) Push(source mux.SourceID, msg mux.InputMessage, now time.Time) error {
	r.pushed <- msg
	return nil
}

func TestHelloVersionAndSync(t *testing.T) {
	b := bus.New()
	router := &stubRouter{pushed: make(chan mux.InputMessage, 2)}
	b.BindInstance("inst", router)

	s := &Server{InstanceID: "inst", Bus: b, LightCount: 2}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handleConn(ctx, conn)
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	fmtWrite := func(s string) {
		_, err := conn.Write([]byte(s + "\n"))
		require.NoError(t, err)
	}

	fmtWrite("hello")
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	fmtWrite("get version")
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "version 5\n", line)

	fmtWrite("set light 0 rgb 1.0 0.0 0.0")
	fmtWrite("sync")

	select {
	case msg := <-router.pushed:
		lc, ok := msg.(mux.LedColors)
		require.True(t, ok)
		require.Len(t, lc.Colors, 2)
		assert.Equal(t, byte(255), lc.Colors[0].R)
	case <-time.After(time.Second):
		t.Fatal("expected sync to push led colors")
	}
}
