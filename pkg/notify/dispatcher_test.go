package notify

import (
	"context"
	"errors"
	"net/smtp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	got  []Message
	err  error
	slow time.Duration
}

func (r *recordingNotifier) Notify(ctx context.Context, msg Message) error {
	if r.slow > 0 {
		time.Sleep(r.slow)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
	return r.err
}

func (r *recordingNotifier) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.got...)
}

func TestDispatcherDelivers(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, 8, 1, nil, nil)

	d.Send(Message{Recipient: "a@example.org", Subject: "s", Body: "b"})
	d.Send(Message{Recipient: "b@example.org", Subject: "s2", Body: "b2"})
	d.Stop()

	msgs := rec.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a@example.org", msgs[0].Recipient)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	rec := &recordingNotifier{slow: 50 * time.Millisecond}
	d := NewDispatcher(rec, 1, 1, nil, nil)

	for i := 0; i < 10; i++ {
		d.Send(Message{Recipient: "x@example.org"})
	}
	d.Stop()

	// Some messages were dropped rather than blocking the sender.
	assert.Less(t, len(rec.messages()), 10)
}

func TestDispatcherSwallowsDeliveryErrors(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("smtp down")}
	d := NewDispatcher(rec, 8, 2, nil, nil)

	d.Send(Message{Recipient: "a@example.org"})
	// Stop returns even though every delivery failed.
	d.Stop()
	assert.Len(t, rec.messages(), 1)
}

func TestDispatcherSendAfterStop(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, 8, 1, nil, nil)
	d.Stop()

	// Must not panic on the closed queue.
	d.Send(Message{Recipient: "late@example.org"})
	assert.Empty(t, rec.messages())
}

func TestSMTPNotifierValidation(t *testing.T) {
	_, err := NewSMTPNotifier(SMTPConfig{})
	assert.Error(t, err)

	_, err = NewSMTPNotifier(SMTPConfig{Host: "mail", Port: 25})
	assert.Error(t, err)

	n, err := NewSMTPNotifier(SMTPConfig{Host: "mail", Port: 25, From: "rounds@example.org"})
	require.NoError(t, err)

	err = n.Notify(context.Background(), Message{})
	assert.Error(t, err, "missing recipient")
}

func TestSMTPNotifierMessageFormat(t *testing.T) {
	n, err := NewSMTPNotifier(SMTPConfig{Host: "mail", Port: 2525, From: "rounds@example.org"})
	require.NoError(t, err)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err = n.Notify(context.Background(), Message{
		Recipient: "doc@example.org",
		Subject:   "Access request\r\nX-Injected: nope",
		Body:      "Your request was approved.",
	})
	require.NoError(t, err)

	assert.Equal(t, "mail:2525", gotAddr)
	assert.Equal(t, "rounds@example.org", gotFrom)
	assert.Equal(t, []string{"doc@example.org"}, gotTo)
	text := string(gotMsg)
	assert.Contains(t, text, "To: doc@example.org\r\n")
	assert.Contains(t, text, "Subject: Access request X-Injected: nope\r\n")
	assert.Contains(t, text, "Your request was approved.")
}
