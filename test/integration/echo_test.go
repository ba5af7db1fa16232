// Package integration exercises stream, simple, and wire together over a
// real (in-memory) connection, the way the teacher's own test/integration
// package drives multiple packages against a real deployment -- scaled down
// here to a net.Pipe() since this module has no distributed infrastructure
// of its own to stand up.
package integration

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.pipeline.dev/core/simple"
	"go.pipeline.dev/core/stream"
	"go.pipeline.dev/core/wire"
)

func TestEchoRoundTrip(t *testing.T) {
	var clientConn, serverConn = net.Pipe()

	var serverTransport = wire.New[string, struct{}, string, struct{}, error](serverConn, errOf)
	var clientTransport = wire.New[string, struct{}, string, struct{}, error](clientConn, errOf)

	var dispatch = simple.NewServer[string, string, error](serverTransport, func(req string) (string, error) {
		return "echo:" + req, nil
	}, func(err error) error { return err })

	var client = simple.NewClient[string, string, error](clientTransport)

	var serverEngine = stream.New[string, struct{}, string, struct{}, error](dispatch)
	var clientEngine = stream.New[string, struct{}, string, struct{}, error](client)

	var serverDone = make(chan error, 1)
	go func() { serverDone <- runToCompletion(serverEngine) }()
	var clientDone = make(chan error, 1)
	go func() { clientDone <- runToCompletion(clientEngine) }()

	var replies [3]<-chan simple.Result[string, error]
	for i, req := range [3]string{"one", "two", "three"} {
		replies[i] = client.Call(req)
	}

	for i, want := range [3]string{"echo:one", "echo:two", "echo:three"} {
		select {
		case r := <-replies[i]:
			require.False(t, r.IsErr)
			require.Equal(t, want, r.Resp)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for reply %d", i)
		}
	}

	client.Close()
	dispatch.Close()

	require.NoError(t, <-clientDone)
	_ = clientConn.Close()
	_ = serverConn.Close()
	<-serverDone
}

func runToCompletion(e *stream.Engine[string, struct{}, string, struct{}, error]) error {
	for {
		var done, err = e.Advance()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
}

func errOf(msg string) error { return &stringError{msg} }

type stringError struct{ msg string }

func (e *stringError) Error() string { return e.msg }
