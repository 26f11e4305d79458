package api

import (
	"github.com/lproko/powerbi-leaflet-sub000/pkg/visual"
)

// session owns the host-side state a real embedding platform would
// hold for one visual instance: the active data view and the persisted
// settings.  A goroutine owns both, and every mutation replays the
// combined pair into the visual, mirroring how hosts always deliver
// data and settings together.
type session struct {
	vis  *visual.Visual
	cmds chan sessionCmd
	quit chan struct{}
}

type sessionCmdKind int

const (
	sessSetView sessionCmdKind = iota
	sessSetSettings
	sessGet
)

type sessionCmd struct {
	kind     sessionCmdKind
	dv       visual.DataView
	settings visual.Settings
	reply    chan sessionState
}

type sessionState struct {
	dv       visual.DataView
	settings visual.Settings
}

func newSession(vis *visual.Visual, initial visual.Settings) *session {
	s := &session{
		vis:  vis,
		cmds: make(chan sessionCmd),
		quit: make(chan struct{}),
	}
	go s.loop(initial)
	return s
}

func (s *session) loop(settings visual.Settings) {
	var dv visual.DataView
	// Deliver the configured settings once at startup so the visual
	// fetches its boundary sources before any dataset arrives.
	s.vis.Update(dv, settings)
	for {
		select {
		case <-s.quit:
			return
		case c := <-s.cmds:
			switch c.kind {
			case sessSetView:
				dv = c.dv
				s.vis.Update(dv, settings)
			case sessSetSettings:
				settings = c.settings
				s.vis.Update(dv, settings)
			case sessGet:
				c.reply <- sessionState{dv: dv, settings: settings}
			}
		}
	}
}

func (s *session) close() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
}

// SetView replaces the active data view and replays it to the visual.
func (s *session) SetView(dv visual.DataView) {
	select {
	case s.cmds <- sessionCmd{kind: sessSetView, dv: dv}:
	case <-s.quit:
	}
}

// SetSettings replaces the persisted settings and replays them.
func (s *session) SetSettings(settings visual.Settings) {
	select {
	case s.cmds <- sessionCmd{kind: sessSetSettings, settings: settings}:
	case <-s.quit:
	}
}

func (s *session) Get() sessionState {
	reply := make(chan sessionState, 1)
	select {
	case s.cmds <- sessionCmd{kind: sessGet, reply: reply}:
	case <-s.quit:
		return sessionState{}
	}
	select {
	case st := <-reply:
		return st
	case <-s.quit:
		return sessionState{}
	}
}
