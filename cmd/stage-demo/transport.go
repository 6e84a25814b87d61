package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
	"github.com/lokutor-ai/lokutor-stage/pkg/stage"
)

// wsPublisher implements stage.ClientPublisher over one coder/websocket
// connection: JSON control frames via wsjson (the same library the
// teacher/lokutor.go uses for its own client role), raw binary frames for
// audio data. One instance per connected session.
type wsPublisher struct {
	conn *websocket.Conn
}

type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (p *wsPublisher) send(ctx context.Context, typ string, data interface{}) error {
	return wsjson.Write(ctx, p.conn, envelope{Type: typ, Data: data})
}

func (p *wsPublisher) OrbStateChanged(sessionID stage.SessionId, spk speaker.Id, state stage.OrbState) error {
	return p.send(context.Background(), "orb.state", map[string]interface{}{
		"sessionId": sessionID, "speaker": spk, "state": state,
	})
}

func (p *wsPublisher) Caption(sessionID stage.SessionId, c stage.Caption) error {
	return p.send(context.Background(), "caption", c)
}

func (p *wsPublisher) ModeThinking(sessionID stage.SessionId, spk speaker.Id, durationMs, startedAt int64) error {
	return p.send(context.Background(), "mode.thinking", map[string]interface{}{
		"speaker": spk, "durationMs": durationMs, "startedAt": startedAt,
	})
}

func (p *wsPublisher) ModeNormal(sessionID stage.SessionId, spk speaker.Id, endedAt int64) error {
	return p.send(context.Background(), "mode.normal", map[string]interface{}{
		"speaker": spk, "endedAt": endedAt,
	})
}

func (p *wsPublisher) SharedScreenState(sessionID stage.SessionId, s stage.SharedScreen) error {
	return p.send(context.Background(), "shared-screen.state", s)
}

func (p *wsPublisher) RecordingReady(sessionID stage.SessionId, episodeID string, files []string) error {
	return p.send(context.Background(), "recording.ready", map[string]interface{}{
		"episodeId": episodeID, "files": files,
	})
}

func (p *wsPublisher) ServerAck(sessionID stage.SessionId, message string) error {
	return p.send(context.Background(), "server.ack", map[string]string{"message": message})
}

func (p *wsPublisher) StateSnapshot(sessionID stage.SessionId, snap stage.Snapshot) error {
	return p.send(context.Background(), "state.snapshot", snap)
}

func (p *wsPublisher) AudioChunk(sessionID stage.SessionId, spk speaker.Id, data []byte) error {
	framed := append([]byte{byte(len(spk))}, []byte(spk)...)
	framed = append(framed, data...)
	return p.conn.Write(context.Background(), websocket.MessageBinary, framed)
}

var _ stage.ClientPublisher = (*wsPublisher)(nil)

// clientMessage is the inbound JSON control-frame shape: audio arrives as
// raw binary frames instead (handled separately in the read loop).
type clientMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
	On   bool   `json:"on"`
}

// server ties the HTTP upgrade handler to the app's shared collaborators.
type server struct {
	app *app
}

func (srv *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("websocket accept failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	sessionID := stage.SessionId(uuid.NewString())
	pub := &wsPublisher{conn: conn}

	sess, err := srv.app.registerSession(r.Context(), sessionID, pub)
	if err != nil {
		log.Printf("register session %s failed: %v", sessionID, err)
		conn.Close(websocket.StatusInternalError, "register failed")
		return
	}
	defer func() {
		if err := srv.app.orch.Disconnect(sessionID); err != nil {
			log.Printf("disconnect session %s: %v", sessionID, err)
		}
	}()

	ctx := r.Context()
	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			return
		}
		switch msgType {
		case websocket.MessageBinary:
			sess.HandleAudioChunk(payload)
			srv.app.feedSTT(sessionID, payload)
		case websocket.MessageText:
			var cm clientMessage
			if err := json.Unmarshal(payload, &cm); err != nil {
				continue
			}
			srv.dispatchControl(ctx, sess, sessionID, cm)
		}
	}
}

func (srv *server) dispatchControl(ctx context.Context, sess *stage.Session, sessionID stage.SessionId, cm clientMessage) {
	switch cm.Type {
	case "client.transcript-final":
		sess.HandleTranscript(cm.Text, true)
	case "client.transcript-partial":
		sess.HandleTranscript(cm.Text, false)
	case "client.toggle-autopilot":
		sess.ToggleAutopilot(cm.On)
	case "client.request-state":
		sess.RequestState()
	case "client.flush-stt":
		go srv.app.flushSTT(ctx, sessionID)
	}
}

func newMux(a *app) *http.ServeMux {
	srv := &server{app: a}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
