package web

import (
	"context"
	"fmt"
	"html/template"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/wencoast/DeepLearning/img"
	"github.com/wencoast/DeepLearning/nnet"
)

// Monitor holds the state of a training run shown by the web server. It implements the
// nnet.Callback interface and notifies connected clients at the end of each epoch.
type Monitor struct {
	sync.Mutex
	Conf     nnet.Config
	Arch     nnet.Architecture
	Data     map[string]*img.Data
	Stats    []nnet.Stats
	Epoch    int
	MaxEpoch int
	running  bool
	cancel   context.CancelFunc
	conns    map[*websocket.Conn]bool
}

// Create a new monitor for the run. Cancel is called if training is stopped from the web page.
func NewMonitor(conf nnet.Config, run *nnet.Run, data map[string]*img.Data, cancel context.CancelFunc) *Monitor {
	m := &Monitor{
		Conf:     conf,
		Arch:     run.Arch,
		Data:     data,
		Epoch:    run.InitialEpoch,
		MaxEpoch: run.InitialEpoch + conf.MaxEpoch,
		running:  true,
		cancel:   cancel,
		conns:    make(map[*websocket.Conn]bool),
	}
	if !run.Fresh {
		if entries, err := nnet.LoadHistory(run.Dir); err == nil {
			for _, e := range entries {
				m.Stats = append(m.Stats, e.Stats)
			}
		}
	}
	return m
}

// Record stats for the epoch and notify clients via websocket
func (m *Monitor) EpochEnd(s nnet.Stats) error {
	m.Lock()
	defer m.Unlock()
	m.Stats = append(m.Stats, s)
	m.Epoch = s.Epoch
	m.notify(fmt.Sprintf("epoch:%d", s.Epoch))
	return nil
}

// Mark the run as complete
func (m *Monitor) Done() {
	m.Lock()
	defer m.Unlock()
	m.running = false
	m.notify("done")
}

// Stop training, returns false if it is not running
func (m *Monitor) Stop() bool {
	m.Lock()
	defer m.Unlock()
	if !m.running {
		return false
	}
	m.running = false
	if m.cancel != nil {
		m.cancel()
	}
	return true
}

// True if training is in progress
func (m *Monitor) Running() bool {
	m.Lock()
	defer m.Unlock()
	return m.running
}

func (m *Monitor) addConn(conn *websocket.Conn) {
	m.Lock()
	m.conns[conn] = true
	m.Unlock()
	go m.readLoop(conn)
}

// Client messages are discarded, but reading is needed to handle ping and close frames.
func (m *Monitor) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			m.removeConn(conn)
			return
		}
	}
}

func (m *Monitor) removeConn(conn *websocket.Conn) {
	m.Lock()
	defer m.Unlock()
	if m.conns[conn] {
		conn.Close()
		delete(m.conns, conn)
	}
}

// called with lock held
func (m *Monitor) notify(msg string) {
	for conn := range m.conns {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			log.Println("monitor: error writing to websocket:", err)
			conn.Close()
			delete(m.conns, conn)
		}
	}
}

// Close any open connections
func (m *Monitor) Close() {
	m.Lock()
	defer m.Unlock()
	for conn := range m.conns {
		conn.Close()
		delete(m.conns, conn)
	}
}

func (m *Monitor) heading() template.HTML {
	s := fmt.Sprintf(`%s: %s epoch <span id="epoch">%d</span> of %d`, m.Conf.Model, m.Arch.Name, m.Epoch, m.MaxEpoch)
	return template.HTML(s)
}
