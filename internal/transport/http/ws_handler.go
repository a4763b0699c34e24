package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"trial-service/internal/app"
	"trial-service/internal/domain"
)

// Authenticator resolves the current session's user. Absence of a user is a
// fatal condition for the trial session, not a retryable one.
type Authenticator interface {
	UserID(r *http.Request) (string, error)
}

// ErrNotAuthenticated is returned by authenticators when no user is present.
var ErrNotAuthenticated = errors.New("not authenticated")

// QueryAuthenticator trusts a userId query parameter. Suitable behind a
// gateway that has already verified the session cookie.
type QueryAuthenticator struct{}

func (QueryAuthenticator) UserID(r *http.Request) (string, error) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		return "", ErrNotAuthenticated
	}
	return userID, nil
}

type WSHandler struct {
	service  *app.TrialService
	auth     Authenticator
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.TrialService, auth Authenticator) *WSHandler {
	return &WSHandler{
		service: service,
		auth:    auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type navigatePayload struct {
	Step int `json:"step"`
}

type answerPayload struct {
	QuestionID string   `json:"questionId"`
	Value      string   `json:"value,omitempty"`
	Values     []string `json:"values,omitempty"`
}

type answerSaved struct {
	QuestionID string `json:"questionId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and runs one trial session over the socket.
// Connect with ?attemptId= to resume an ongoing attempt, or ?trialId= to
// begin a new one.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.UserID(r)
	if err != nil {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	attemptID := r.URL.Query().Get("attemptId")
	trialID := r.URL.Query().Get("trialId")
	if attemptID == "" && trialID == "" {
		http.Error(w, "missing attemptId or trialId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	if attemptID == "" {
		attempt, err := h.service.BeginAttempt(r.Context(), trialID, userID)
		if err != nil {
			_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			return
		}
		attemptID = attempt.ID
	}

	state, err := h.service.StartSession(r.Context(), attemptID, userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	updates, cancel, err := h.service.Subscribe(attemptID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				msg := outboundMessage[any]{Type: "tick", Payload: update}
				if update.Summary != nil {
					msg = outboundMessage[any]{Type: "finished", Payload: *update.Summary}
				}
				select {
				case send <- msg:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "state", Payload: state}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "navigate":
			var payload navigatePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid navigate payload"}}
				continue
			}
			state, err := h.service.Navigate(attemptID, payload.Step)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "state", Payload: state}
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			err := h.service.SetAnswer(attemptID, payload.QuestionID, domain.Answer{
				Value:  payload.Value,
				Values: payload.Values,
			})
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "answerSaved", Payload: answerSaved{QuestionID: payload.QuestionID}}
		case "finish":
			// The summary reaches the client through the subscription, so the
			// expiry and explicit paths produce one identical "finished" message.
			if _, err := h.service.Finish(r.Context(), attemptID); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	// Release this connection's subscription before leaving, so the session
	// survives exactly when another connection is still attached.
	cancel()
	h.service.Leave(attemptID)

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
