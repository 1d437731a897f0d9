package server

import (
	"errors"
	"testing"
)

func TestSessionSendBuffers(t *testing.T) {
	sess := newSession(nil, 4)

	for i := 0; i < 4; i++ {
		if err := sess.Send([]byte("frame")); err != nil {
			t.Fatalf("Send() %d error = %v", i, err)
		}
	}
}

func TestSessionSendFullBuffer(t *testing.T) {
	sess := newSession(nil, 2)

	sess.Send([]byte("a"))
	sess.Send([]byte("b"))

	// Nothing drains the channel; the third send must fail, not block.
	if err := sess.Send([]byte("c")); !errors.Is(err, ErrSlowConsumer) {
		t.Errorf("Send() on full buffer error = %v, want ErrSlowConsumer", err)
	}
}

func TestSessionSendAfterClose(t *testing.T) {
	sess := newSession(nil, 4)
	sess.Close()

	if err := sess.Send([]byte("frame")); err == nil {
		t.Error("Send() after Close did not return an error")
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	sess := newSession(nil, 4)
	sess.Close()
	sess.Close()
}
