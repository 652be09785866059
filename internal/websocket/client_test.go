package websocket

import (
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePumpDeliversMessages(t *testing.T) {
	fake := newFakeConn()
	client := NewClient(nil, fake, "", discardLogger())

	done := make(chan struct{})
	go func() {
		client.WritePump()
		close(done)
	}()

	client.send <- []byte(`{"type":"license_status"}`)

	require.Eventually(t, func() bool {
		for _, frame := range fake.written() {
			if frame.messageType == websocket.TextMessage && string(frame.data) == `{"type":"license_status"}` {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	close(client.send)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write pump did not stop")
	}

	frames := fake.written()
	require.NotEmpty(t, frames)
	assert.Equal(t, websocket.CloseMessage, frames[len(frames)-1].messageType)
	assert.True(t, fake.isClosed())
}

func TestReadPumpUnregistersOnError(t *testing.T) {
	hub := startHub(t)
	fake := newFakeConn()
	client := NewClient(hub, fake, "", discardLogger())
	hub.Register(client)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		client.ReadPump()
		close(done)
	}()

	fake.reads <- readFrame{err: errors.New("connection reset")}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read pump did not stop")
	}
	assert.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)
	assert.True(t, fake.isClosed())
}

func TestReadPumpSurvivesHeartbeat(t *testing.T) {
	hub := startHub(t)
	fake := newFakeConn()
	client := NewClient(hub, fake, "", discardLogger())
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		client.ReadPump()
		close(done)
	}()

	fake.reads <- readFrame{data: []byte(`{"type":"heartbeat"}`)}

	select {
	case <-done:
		t.Fatal("read pump stopped on heartbeat")
	case <-time.After(50 * time.Millisecond):
	}

	fake.reads <- readFrame{err: errors.New("gone")}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read pump did not stop")
	}
}
