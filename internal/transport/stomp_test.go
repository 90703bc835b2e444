package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthea-ws/genclient/internal/protocol"
)

// fakeBroker speaks just enough STOMP to stand in for the service's
// message-broker endpoint: it answers /app/configure and /app/start on the
// reply queues and streams two entities plus completion on /json/{id}.
type fakeBroker struct {
	mu    sync.Mutex
	sends []*frame.Frame
}

func (b *fakeBroker) recorded() []*frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*frame.Frame(nil), b.sends...)
}

func (b *fakeBroker) serve(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{Subprotocols: stompSubprotocols}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	stream := newStream(ws, time.Second)
	defer stream.Close()

	reader := frame.NewReader(stream)
	writer := frame.NewWriter(stream)
	subs := map[string]string{} // destination -> subscription id
	msgID := 0

	deliver := func(dest, body string) error {
		id, ok := subs[dest]
		if !ok {
			return nil
		}
		msgID++
		f := frame.New("MESSAGE",
			"destination", dest,
			"subscription", id,
			"message-id", strconv.Itoa(msgID),
			"content-type", "application/json")
		f.Body = []byte(body)
		return writer.Write(f)
	}

	for {
		f, err := reader.Read()
		if err != nil {
			return
		}
		if f == nil {
			continue // heart-beat
		}
		switch f.Command {
		case "CONNECT", "STOMP":
			if err := writer.Write(frame.New("CONNECTED", "version", "1.2")); err != nil {
				return
			}
		case "SUBSCRIBE":
			subs[f.Header.Get("destination")] = f.Header.Get("id")
		case "SEND":
			b.mu.Lock()
			b.sends = append(b.sends, f)
			b.mu.Unlock()
			switch f.Header.Get("destination") {
			case "/app/configure":
				_ = deliver("/user/reply/configure", `{"uuid":"stomp-1","config":{"population":2,"seed":7}}`)
			case "/app/start":
				_ = deliver("/user/reply/start", `{"status":"Started"}`)
				_ = deliver("/json/"+string(f.Body), `{"resourceType":"Bundle","n":1}`)
				_ = deliver("/json/"+string(f.Body), `{"resourceType":"Bundle","n":2}`)
				_ = deliver("/json/"+string(f.Body), `{"wsStatus":"Completed"}`)
			}
		case "DISCONNECT":
			return
		}
	}
}

func TestSTOMPRequestFlow(t *testing.T) {
	broker := &fakeBroker{}
	srv := httptest.NewServer(http.HandlerFunc(broker.serve))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := NewSTOMP(Options{}).Dial(ctx, wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	assert.False(t, conn.Supports(protocol.OpUpdateRequest))
	assert.True(t, conn.Supports(protocol.OpPause))

	require.NoError(t, conn.Send(protocol.Configure(protocol.PopulationConfig(2))))
	raw, err := conn.Read()
	require.NoError(t, err)
	in, err := protocol.Classify(raw)
	require.NoError(t, err)
	require.Equal(t, "stomp-1", in.Identifier)

	binder, ok := conn.(Binder)
	require.True(t, ok, "stomp connections bind entity channels")
	require.NoError(t, binder.Bind(in.Identifier))

	require.NoError(t, conn.Send(protocol.Start(in.Identifier)))

	var kinds []protocol.Kind
	for len(kinds) < 4 {
		raw, err := conn.Read()
		require.NoError(t, err)
		in, err := protocol.Classify(raw)
		require.NoError(t, err)
		kinds = append(kinds, in.Kind)
	}
	// Reply queues and the entity channel are separate subscriptions, so only
	// the multiset is fixed.
	assert.ElementsMatch(t, []protocol.Kind{
		protocol.KindStatus, protocol.KindEntity, protocol.KindEntity, protocol.KindStatus,
	}, kinds)

	sends := broker.recorded()
	require.Len(t, sends, 2)
	assert.Equal(t, "/app/configure", sends[0].Header.Get("destination"))
	assert.JSONEq(t, `{"population":2}`, string(sends[0].Body))
	assert.Equal(t, "/app/start", sends[1].Header.Get("destination"))
	assert.Equal(t, "stomp-1", string(sends[1].Body))
}

func TestSTOMPUpdateRequestUnsupported(t *testing.T) {
	broker := &fakeBroker{}
	srv := httptest.NewServer(http.HandlerFunc(broker.serve))
	defer srv.Close()

	conn, err := NewSTOMP(Options{}).Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Send(protocol.UpdateRequest("x", protocol.Configuration{}))
	assert.True(t, errors.Is(err, ErrUnsupported))
	assert.Empty(t, broker.recorded())
}

func TestSTOMPReadAfterClose(t *testing.T) {
	broker := &fakeBroker{}
	srv := httptest.NewServer(http.HandlerFunc(broker.serve))
	defer srv.Close()

	conn, err := NewSTOMP(Options{}).Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)

	_ = conn.Close()
	_, err = conn.Read()
	assert.Error(t, err)
	assert.True(t, errors.Is(conn.Send(protocol.Start("x")), ErrClosed))
}
