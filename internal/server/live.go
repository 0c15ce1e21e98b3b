package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	apiv1 "github.com/wesleyemery/k8s-metrics-tables/api/v1"
	"github.com/wesleyemery/k8s-metrics-tables/pkg/metrics"
	"github.com/wesleyemery/k8s-metrics-tables/pkg/table"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	// Maximum command size allowed from peer.
	maxCommandSize = 4 * 1024
)

// handleLive serves GET /api/v1/tables/{kind}/live. The query string sets
// the initial parameters; afterwards the client steers the view with
// commands and receives a state snapshot whenever it changes.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	if !apiv1.ValidKind(kind) {
		respondError(w, http.StatusNotFound, "unknown table kind "+kind)
		return
	}
	params, err := s.tableParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(err, "websocket upgrade failed", "kind", kind)
		return
	}

	switch kind {
	case apiv1.KindPods:
		runLiveSession(s, conn, kind, params, s.podSpec())
	case apiv1.KindContainers:
		runLiveSession(s, conn, kind, params, s.containerSpec())
	case apiv1.KindNodes:
		runLiveSession(s, conn, kind, params, s.nodeSpec())
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// runLiveSession owns one connection and one view. It blocks until the
// client departs or the connection drops.
func runLiveSession[R table.DisplayRow](s *Server, conn *websocket.Conn, kind string, params table.Params, spec table.ViewSpec[R]) {
	ctx, cancel := context.WithCancel(context.Background())
	log := s.log.WithValues("kind", kind, "remote", conn.RemoteAddr().String())

	session := &liveSession[R]{
		conn:        conn,
		view:        table.NewView(ctx, s.querier, spec, params, log),
		kind:        kind,
		maxPageSize: s.cfg.Tables.MaxPageSize,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}

	s.telemetry.liveSessions.Inc()
	defer s.telemetry.liveSessions.Dec()

	log.V(1).Info("live session opened")
	session.view.Refresh()

	go session.writePump()
	session.readPump()
	log.V(1).Info("live session closed")
}

type liveSession[R table.DisplayRow] struct {
	conn        *websocket.Conn
	view        *table.View[R]
	kind        string
	maxPageSize int
	log         logr.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

// readPump decodes client commands until the connection drops, then tears
// the session down.
func (s *liveSession[R]) readPump() {
	defer func() {
		s.cancel()
		s.view.Close()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxCommandSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Error(err, "live session read failed")
			}
			return
		}

		var cmd apiv1.LiveCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			s.log.V(1).Info("ignoring malformed live command", "error", err.Error())
			continue
		}
		s.apply(cmd)
	}
}

// apply maps one command onto the view. Invalid commands are ignored; the
// session stays up.
func (s *liveSession[R]) apply(cmd apiv1.LiveCommand) {
	switch cmd.Action {
	case apiv1.ActionSetTimerange:
		if cmd.Timerange == nil || cmd.Timerange.Validate() != nil {
			s.log.V(1).Info("ignoring invalid setTimerange command")
			return
		}
		s.view.SetTimerange(metrics.Timerange{
			From:     cmd.Timerange.From,
			To:       cmd.Timerange.To,
			Interval: cmd.Timerange.Interval.Duration,
		})
	case apiv1.ActionSetFilter:
		if cmd.Filter == nil || metrics.ValidateFilter(*cmd.Filter) != nil {
			s.log.V(1).Info("ignoring invalid setFilter command")
			return
		}
		s.view.SetFilter(*cmd.Filter)
	case apiv1.ActionSetSort:
		if cmd.Sort == nil {
			return
		}
		field, err := table.ParseSortField(cmd.Sort.Field)
		if err != nil {
			s.log.V(1).Info("ignoring invalid setSort command", "error", err.Error())
			return
		}
		dir, err := table.ParseSortDirection(cmd.Sort.Direction)
		if err != nil {
			s.log.V(1).Info("ignoring invalid setSort command", "error", err.Error())
			return
		}
		s.view.SetSort(table.SortState{Field: field, Direction: dir})
	case apiv1.ActionSetPage:
		if cmd.PageIndex == nil || *cmd.PageIndex < 0 {
			return
		}
		s.view.SetPage(*cmd.PageIndex)
	case apiv1.ActionSetPageSize:
		if cmd.PageSize == nil || *cmd.PageSize < 1 || *cmd.PageSize > s.maxPageSize {
			return
		}
		s.view.SetPageSize(*cmd.PageSize)
	case apiv1.ActionRefresh:
		s.view.Refresh()
	default:
		s.log.V(1).Info("ignoring unknown live action", "action", cmd.Action)
	}
}

// writePump pushes view snapshots and keepalive pings to the peer.
func (s *liveSession[R]) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case state := <-s.view.Updates():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(liveState(s.kind, state)); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func liveState[R table.DisplayRow](kind string, state table.State[R]) apiv1.LiveState[R] {
	return apiv1.LiveState[R]{
		Phase:     string(state.Phase),
		IsLoading: state.IsLoading(),
		Page:      tablePage(kind, state.Page),
	}
}
