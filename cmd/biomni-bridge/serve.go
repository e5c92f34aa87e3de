package main

import (
	"bytes"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/aixtools/biomni-bridge/bridge"
	"github.com/aixtools/biomni-bridge/session"
	"github.com/aixtools/biomni-bridge/supervisor"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			comp, err := setup(*configPath)
			if err != nil {
				return err
			}
			gw := newGateway(comp)
			mux := http.NewServeMux()
			mux.HandleFunc("/ws", gw.handleWS)
			comp.log.Info("gateway listening", "addr", comp.cfg.Listen)
			return http.ListenAndServe(comp.cfg.Listen, mux)
		},
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is a message from the UI: a query to run, an upload, or a stop
// request. Upload content is base64 encoded.
type clientFrame struct {
	Type    string   `json:"type"` // "query", "upload" or "stop"
	Query   string   `json:"query,omitempty"`
	Files   []string `json:"files,omitempty"` // stored paths from earlier uploads
	Name    string   `json:"name,omitempty"`
	Content string   `json:"content,omitempty"`
}

// wireBlock is the JSON shape of a parsed block.
type wireBlock struct {
	Kind    string `json:"kind"`
	Label   string `json:"label,omitempty"`
	Lang    string `json:"lang,omitempty"`
	Content string `json:"content"`
}

// serverFrame is a message to the UI.
type serverFrame struct {
	Type      string      `json:"type"` // "session", "update", "uploaded", "error"
	SessionID string      `json:"session_id,omitempty"`
	Blocks    []wireBlock `json:"blocks,omitempty"`
	State     string      `json:"state,omitempty"`
	ExitCode  int         `json:"exit_code,omitempty"`
	Error     string      `json:"error,omitempty"`
	Artifacts []string    `json:"artifacts,omitempty"`
	FileID    string      `json:"file_id,omitempty"`
	FileName  string      `json:"file_name,omitempty"`
	FilePath  string      `json:"file_path,omitempty"`
}

// gateway serves one session per websocket connection.
type gateway struct {
	comp *components
}

func newGateway(comp *components) *gateway {
	return &gateway{comp: comp}
}

func (g *gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.comp.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sess, err := g.comp.store.Create()
	if err != nil {
		g.comp.log.WithError(err).Error("session creation failed")
		return
	}
	log := g.comp.log.WithSessionID(sess.ID)
	log.Info("client connected")

	// gorilla/websocket allows a single concurrent writer.
	var writeMu sync.Mutex
	send := func(f serverFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(f)
	}

	defer func() {
		g.comp.coord.Stop(sess.ID)
		g.comp.store.End(sess.ID)
		log.Info("client disconnected")
	}()

	if err := send(serverFrame{Type: "session", SessionID: sess.ID}); err != nil {
		return
	}

	ctx := r.Context()
	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case "stop":
			g.comp.coord.Stop(sess.ID)

		case "upload":
			if g.handleUpload(sess, frame, send) != nil {
				return
			}

		case "query":
			updates, err := g.comp.coord.HandleQuery(ctx, sess.ID, frame.Query, frame.Files)
			if err != nil {
				msg := err.Error()
				if errors.Is(err, supervisor.ErrInvocationConflict) {
					msg = "a query is already running; stop it or wait for it to finish"
				}
				if send(serverFrame{Type: "error", Error: msg}) != nil {
					return
				}
				continue
			}
			go pump(updates, send, log.Warn)

		default:
			if send(serverFrame{Type: "error", Error: "unknown frame type"}) != nil {
				return
			}
		}
	}
}

// handleUpload stores one client file in the session's uploads directory and
// acknowledges it with the stored path the client can reference in a query.
// The returned error is non-nil only when the connection is unwritable.
func (g *gateway) handleUpload(sess *session.Session, frame clientFrame, send func(serverFrame) error) error {
	data, err := base64.StdEncoding.DecodeString(frame.Content)
	if err != nil {
		return send(serverFrame{Type: "error", Error: "upload content is not valid base64"})
	}

	f, err := g.comp.uploads.Save(sess.Paths.Uploads, frame.Name, bytes.NewReader(data))
	if err != nil {
		return send(serverFrame{Type: "error", Error: err.Error()})
	}
	if err := g.comp.store.RegisterUpload(sess.ID, f.ID); err != nil {
		return send(serverFrame{Type: "error", Error: err.Error()})
	}

	return send(serverFrame{
		Type:     "uploaded",
		FileID:   f.ID,
		FileName: f.SafeName,
		FilePath: f.Path,
	})
}

// pump forwards coordinator updates to the client until the terminal update.
func pump(updates <-chan bridge.Update, send func(serverFrame) error, warn func(string, ...any)) {
	for u := range updates {
		frame := serverFrame{
			Type:      "update",
			State:     u.State.String(),
			ExitCode:  u.ExitCode,
			Error:     u.Err,
			Artifacts: u.Artifacts,
			Blocks:    make([]wireBlock, 0, len(u.Blocks)),
		}
		for _, b := range u.Blocks {
			frame.Blocks = append(frame.Blocks, wireBlock{
				Kind:    b.Kind.String(),
				Label:   b.Label,
				Lang:    b.Lang,
				Content: b.Content,
			})
		}
		if err := send(frame); err != nil {
			warn("client write failed, dropping remaining updates", "error", err.Error())
			// Keep draining so the coordinator can finish.
			for range updates {
			}
			return
		}
	}
}
