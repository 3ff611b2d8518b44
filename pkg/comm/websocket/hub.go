package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/capno.go/pkg/maco2"
	"github.com/robotalks/capno.go/pkg/monitor"
)

// ClientBufferSize is the number of samples buffered per client before
// samples are dropped for it.
const ClientBufferSize = 32

// ErrCommandsDisabled indicates the hub has no command queue.
var ErrCommandsDisabled = errors.New("commands disabled")

// CommandEnqueuer accepts commands for the sensor.
type CommandEnqueuer interface {
	Enqueue(maco2.Command) error
}

// Sample is the JSON form of a measurement streamed to browsers.
type Sample struct {
	Timestamp         int64 `json:"timestamp"`
	CO2Waveform       byte  `json:"co2_waveform"`
	EndTidalCO2       byte  `json:"fetco2"`
	InspiredCO2       byte  `json:"fco2"`
	RespirationRate   byte  `json:"rr"`
	Status1           byte  `json:"status1"`
	Status2           byte  `json:"status2"`
	Valid             bool  `json:"valid"`
	PumpRunning       bool  `json:"pump_running"`
	LeakDetected      bool  `json:"leak_detected"`
	OcclusionDetected bool  `json:"occlusion_detected"`
}

// SampleFrom converts a measurement.
func SampleFrom(m maco2.Measurement) Sample {
	s := Sample{
		CO2Waveform:       m.WaveformCO2,
		EndTidalCO2:       m.EndTidalCO2,
		InspiredCO2:       m.InspiredCO2,
		RespirationRate:   m.RespirationRate,
		Status2:           m.Status,
		Valid:             m.Valid,
		PumpRunning:       m.PumpRunning,
		LeakDetected:      m.Leak,
		OcclusionDetected: m.Occlusion,
	}
	if !m.Timestamp.IsZero() {
		s.Timestamp = m.Timestamp.UnixNano() / 1e6
	}
	if m.Valid {
		s.Status1 = maco2.Header
	}
	return s
}

type commandMsg struct {
	Cmd string `json:"cmd"`
}

type client struct {
	conn   *websocket.Conn
	sendCh chan []byte
}

// Hub streams measurements to websocket clients and accepts commands
// from them. Routes:
//
//	/ws       websocket, JSON samples out, {"cmd": name} in
//	/command  POST form field cmd
type Hub struct {
	Addr     string
	Commands CommandEnqueuer

	mux     *http.ServeMux
	lock    sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a Hub.
func NewHub(addr string, commands CommandEnqueuer) *Hub {
	h := &Hub{
		Addr:     addr,
		Commands: commands,
		mux:      http.NewServeMux(),
		clients:  make(map[*client]struct{}),
	}
	h.mux.Handle("/ws", websocket.Handler(h.serveWS))
	h.mux.HandleFunc("/command", h.handleCommand)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// HandleMeasurement implements monitor.Sink.
func (h *Hub) HandleMeasurement(ctx context.Context, m maco2.Measurement) error {
	data, err := json.Marshal(SampleFrom(m))
	if err != nil {
		return err
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	for c := range h.clients {
		select {
		case c.sendCh <- data:
		default:
			glog.V(2).Infof("ws %s: slow client, sample dropped", c.conn.Request().RemoteAddr)
		}
	}
	return nil
}

// Run implements Runnable and serves HTTP on Addr.
func (h *Hub) Run(ctx context.Context) error {
	srv := &http.Server{Addr: h.Addr, Handler: h}
	glog.Infof("http listening on %s", h.Addr)
	err := monitor.RunWithContextCancel(ctx, func() {
		srv.Close()
		h.closeClients()
	}, srv.ListenAndServe)
	if err == http.ErrServerClosed {
		err = nil
	}
	return err
}

func (h *Hub) serveWS(conn *websocket.Conn) {
	c := &client{conn: conn, sendCh: make(chan []byte, ClientBufferSize)}
	addr := conn.Request().RemoteAddr
	h.lock.Lock()
	h.clients[c] = struct{}{}
	h.lock.Unlock()
	glog.Infof("ws client %s connected", addr)

	go func() {
		for data := range c.sendCh {
			if err := websocket.Message.Send(conn, string(data)); err != nil {
				glog.V(2).Infof("ws %s send: %v", addr, err)
				conn.Close()
				for range c.sendCh {
				}
				return
			}
		}
	}()

	for {
		var msg string
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			break
		}
		var cmd commandMsg
		if err := json.Unmarshal([]byte(msg), &cmd); err != nil || cmd.Cmd == "" {
			glog.V(2).Infof("ws %s: ignored message %q", addr, msg)
			continue
		}
		h.enqueue(cmd.Cmd, addr)
	}

	h.lock.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.sendCh)
	}
	h.lock.Unlock()
	glog.Infof("ws client %s disconnected", addr)
}

func (h *Hub) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.PostFormValue("cmd")
	if name == "" {
		http.Error(w, "missing 'cmd' parameter", http.StatusBadRequest)
		return
	}
	if err := h.enqueue(name, r.RemoteAddr); err != nil {
		status := http.StatusServiceUnavailable
		if _, perr := maco2.ParseCommand(name); perr != nil {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("OK"))
}

func (h *Hub) enqueue(name, from string) error {
	cmd, err := maco2.ParseCommand(name)
	if err != nil {
		glog.Warningf("command from %s: %v", from, err)
		return err
	}
	if h.Commands == nil {
		return ErrCommandsDisabled
	}
	return h.Commands.Enqueue(cmd)
}

func (h *Hub) closeClients() {
	h.lock.Lock()
	defer h.lock.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
}
