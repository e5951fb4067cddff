package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"timed-quiz-service/internal/app"
	"timed-quiz-service/internal/domain"
)

type WSHandler struct {
	service  *app.QuizService
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
	limit    rate.Limit
	burst    int
}

func NewWSHandler(service *app.QuizService, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:   log,
		limit: rate.Limit(5),
		burst: 10,
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Selected   string `json:"selected"`
}

type startedPayload struct {
	SessionID string                 `json:"sessionId"`
	Snapshot  domain.SessionSnapshot `json:"snapshot"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeWS upgrades the request and runs one timed quiz session over the socket.
// Server events: started, tick, answer, completed, closed, submitted, error.
// Client messages: answer {questionId, selected}, submit.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	session, err := h.service.Start(ctx, userID)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Warn("could not start quiz session")
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: toErrorPayload(err)})
		return
	}
	log := h.log.WithFields(logrus.Fields{"session_id": session.ID(), "user_id": userID})

	updates, cancel, err := h.service.Subscribe(ctx, session.ID())
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: toErrorPayload(err)})
		return
	}
	defer cancel()
	defer h.service.Leave(ctx, session.ID())

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// queued before the forwarder starts so "started" is always the first frame
	send <- outboundMessage[any]{Type: "started", Payload: startedPayload{SessionID: session.ID(), Snapshot: session.Snapshot()}}

	// single writer goroutine; gorilla connections do not allow concurrent writes
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.WithError(err).Debug("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(event.Type), Payload: event}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	limiter := rate.NewLimiter(h.limit, h.burst)
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		reply, ok := h.handleInbound(ctx, session.ID(), limiter, inbound)
		if !ok {
			continue
		}
		if !enqueue(send, writerDone, reply) {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// handleInbound applies one client message and returns the reply to send, if any.
func (h *WSHandler) handleInbound(ctx context.Context, sessionID string, limiter *rate.Limiter, inbound inboundMessage) (outboundMessage[any], bool) {
	if !limiter.Allow() {
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "rate_limited", Message: "too many messages"}}, true
	}
	switch inbound.Type {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "invalid answer payload"}}, true
		}
		// the outcome reaches the client through the session's answer event
		if _, err := h.service.Answer(ctx, sessionID, payload.QuestionID, payload.Selected); err != nil {
			return outboundMessage[any]{Type: "error", Payload: toErrorPayload(err)}, true
		}
		return outboundMessage[any]{}, false
	case "submit":
		final, err := h.service.SubmitFinalScore(ctx, sessionID)
		if err != nil {
			return outboundMessage[any]{Type: "error", Payload: toErrorPayload(err)}, true
		}
		return outboundMessage[any]{Type: "submitted", Payload: final}, true
	default:
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "unsupported message type"}}, true
	}
}

// enqueue hands msg to the writer goroutine. It reports false once the writer
// has stopped, so the caller never blocks on a connection that can't be written.
func enqueue(send chan<- outboundMessage[any], writerDone <-chan struct{}, msg outboundMessage[any]) bool {
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}

func toErrorPayload(err error) errorPayload {
	return errorPayload{Code: errorCode(err), Message: err.Error()}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyQuestionSet):
		return "no_questions"
	case errors.Is(err, domain.ErrStaleAnswer):
		return "stale_answer"
	case errors.Is(err, domain.ErrSessionAlreadyComplete):
		return "session_complete"
	case errors.Is(err, domain.ErrSessionNotComplete):
		return "session_not_complete"
	case errors.Is(err, domain.ErrAlreadySubmitted):
		return "already_submitted"
	case errors.Is(err, domain.ErrOptionNotFound):
		return "option_not_found"
	case errors.Is(err, domain.ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session_not_found"
	default:
		return "internal"
	}
}
