package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeConnection struct {
	user string
	sent []interface{}
	open bool
}

func (f *fakeConnection) User() string { return f.user }
func (f *fakeConnection) Send(message interface{}) {
	if !f.open {
		return
	}
	f.sent = append(f.sent, message)
}
func (f *fakeConnection) IsOpen() bool { return f.open }

func TestWindow_KeyDistinguishesWindowID(t *testing.T) {
	conn := &fakeConnection{user: "alice", open: true}
	w1 := Window{Connection: conn, WindowID: "w1"}
	w2 := Window{Connection: conn, WindowID: "w2"}

	assert.NotEqual(t, w1.Key(), w2.Key())
}

func TestWindow_KeySameForSameWindow(t *testing.T) {
	conn := &fakeConnection{user: "alice", open: true}
	w1 := Window{Connection: conn, WindowID: "w1"}
	w1b := Window{Connection: conn, WindowID: "w1"}

	assert.Equal(t, w1.Key(), w1b.Key())
}

func TestFakeConnection_DropsWhenClosed(t *testing.T) {
	conn := &fakeConnection{user: "alice", open: false}
	conn.Send("hello")
	assert.Empty(t, conn.sent)
}
