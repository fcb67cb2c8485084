package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stemsi/hourglass/internal/model"
	ws "github.com/stemsi/hourglass/internal/websocket"
)

// Subscribe opens the push channel for the exam's messages. The returned
// channel closes when ctx ends or the server hangs up; callers keep
// receiving messages through snapshots either way.
func (c *Client) Subscribe(ctx context.Context) (<-chan model.Message, error) {
	target := c.base.JoinPath("/ws/student/exams/" + c.examID + "/messages")
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Jar:              c.http.Jar,
	}

	conn, resp, err := dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial push channel: %w (http %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial push channel: %w", err)
	}

	out := make(chan model.Message)
	go func() {
		<-ctx.Done()
		_ = ws.WriteClose(conn, "client done")
		conn.Close()
	}()
	go c.readPush(ctx, conn, out)
	return out, nil
}

func (c *Client) readPush(ctx context.Context, conn *websocket.Conn, out chan<- model.Message) {
	defer close(out)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("Push channel closed unexpectedly")
			}
			return
		}

		var env ws.EventEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn().Err(err).Msg("Malformed push event")
			continue
		}
		switch env.Event {
		case ws.EventMessage:
			var ev ws.MessageEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				c.log.Warn().Err(err).Msg("Malformed message event")
				continue
			}
			select {
			case out <- ev.Message:
			case <-ctx.Done():
				return
			}
		case ws.EventError:
			c.log.Warn().RawJSON("event", raw).Msg("Push channel error")
		}
	}
}
