package http

import (
	"encoding/json"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"moff.io/moff-defi/internal/events"
	"moff.io/moff-defi/pkg/log"
	"net/http"
	"time"
)

const (
	streamBuffer = 32
	writeWait    = time.Second * 10
	pingPeriod   = time.Second * 30
)

type serializable interface {
	events.Event
	Serialize() []byte
}

type streamMessage struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// stream pushes every session and transfer event to the client, starting with the current
// session.
func (s *Server) stream(ctx *gin.Context) {
	if !s.streams.TryAdd() {
		abort(ctx, http.StatusServiceUnavailable, codeUnavailable, "too many stream clients")
		return
	}
	defer s.streams.Done()
	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warnf("ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	out := make(chan streamMessage, streamBuffer)
	push := func(e events.Event) {
		se, ok := e.(serializable)
		if !ok {
			return
		}
		select {
		case out <- streamMessage{Topic: se.Topic(), Data: se.Serialize()}:
		default:
			log.Warnf("ws client %v too slow, dropping %v event", ctx.ClientIP(), se.Topic())
		}
	}
	sess := s.manager.Session()
	push(events.SessionChanged{State: string(sess.State), Address: sess.Address, ChainID: sess.ChainID, Ledger: sess.Ledger})
	unsubSession := s.bus.Subscribe(events.TopicSession, push)
	defer unsubSession()
	unsubTransfer := s.bus.Subscribe(events.TopicTransferComplete, push)
	defer unsubTransfer()

	// the read side only watches for the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ctx.Request.Context().Done():
			return
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debugf("ws write: %v", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
