package liveness

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepalive_ProbeSucceedsAgainstListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	k := NewKeepalive("rtsp://"+ln.Addr().String()+"/stream", 10*time.Millisecond, 50*time.Millisecond, func(error) {
		t.Fatal("unexpected keepalive failure against a live listener")
	})
	k.Start(context.Background())
	defer k.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, k.FailureCount())
}

func TestKeepalive_ProbeFailsAgainstClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close() // nothing listens here anymore

	failed := make(chan error, 1)
	k := NewKeepalive("rtsp://"+addr+"/stream", 5*time.Millisecond, 20*time.Millisecond, func(err error) {
		select {
		case failed <- err:
		default:
		}
	})
	k.Start(context.Background())
	defer k.Stop()

	select {
	case err := <-failed:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected a keepalive failure callback")
	}
	assert.GreaterOrEqual(t, k.FailureCount(), 1)
}

func TestHostPort_DefaultsToRTSPPort(t *testing.T) {
	assert.Equal(t, "camera.local:554", hostPort("rtsp://camera.local/stream1"))
	assert.Equal(t, "camera.local:8554", hostPort("rtsp://camera.local:8554/stream1"))
	assert.Equal(t, "", hostPort("::not a url"))
}
