package sh

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/capno.go/pkg/comm/serial"
	"github.com/robotalks/capno.go/pkg/env"
	"github.com/robotalks/capno.go/pkg/maco2"
	"github.com/robotalks/capno.go/pkg/msgs"
)

// Shell provides ishell backed interactive shell for a locally attached
// sensor.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoOpen    bool

	Shell   *ishell.Shell
	Config  *env.Config
	Session *Session
}

// Session is an opened sensor port.
type Session struct {
	Path   string
	Port   *serial.Port
	Parser *maco2.Parser
}

const (
	shellKey     = "$shell"
	closedPrompt = "[closed] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&PortsCmd,
		&OpenCmd,
		&CloseCmd,
		&InitCmd,
		&ReadCmd,
		&StatsCmd,
		&ResetCmd,
		&PumpCmd,
		&ZeroCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(closedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeOpen wraps command func requires an opened port.
func MustBeOpen(fn func(c *ishell.Context, s *Session)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		s := ShellFrom(c).Session
		if s == nil {
			c.Err(fmt.Errorf("port not open"))
			return
		}
		fn(c, s)
	}
}

// WithAutoOpen sets AutoOpen.
func (s *Shell) WithAutoOpen(en bool) *Shell {
	s.AutoOpen = en
	return s
}

// Open opens the sensor port.
func (s *Shell) Open(path string, baud int) error {
	port, err := serial.Open(path, baud)
	if err != nil {
		return err
	}
	s.Close()
	parser := maco2.NewParser()
	parser.PumpActiveHigh = s.Config.PumpActiveHigh
	s.Session = &Session{Path: path, Port: port, Parser: parser}
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", path))
	return nil
}

// Close closes the opened port.
func (s *Shell) Close() {
	if s.Session != nil {
		s.Session.Port.Close()
		s.Session = nil
		s.Shell.SetPrompt(closedPrompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoOpen && s.Config.Port != "" {
		if err := s.Open(s.Config.Port, s.Config.BaudRate); err != nil {
			log.Fatalf("open %q failed: %v", s.Config.Port, err)
		}
		defer s.Close()
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

// FormatMeasurement prints a measurement for display.
func FormatMeasurement(m maco2.Measurement) string {
	var w bytes.Buffer
	fmt.Fprintf(&w, "%s rr=%d fico2=%d fco2=%d fetco2=%d",
		m.Timestamp.Format("15:04:05.000"),
		m.RespirationRate, m.InspiredCO2, m.WaveformCO2, m.EndTidalCO2)
	if !m.PumpRunning {
		w.WriteString(" pump-stopped")
	}
	if m.Leak {
		w.WriteString(" leak")
	}
	if m.Occlusion {
		w.WriteString(" occlusion")
	}
	return w.String()
}

// FormatStatistics prints parser statistics for display.
func FormatStatistics(st maco2.Statistics, state maco2.SyncState) string {
	var w bytes.Buffer
	fmt.Fprintf(&w, "state:           %s\n", state)
	fmt.Fprintf(&w, "packets:         %d\n", st.PacketCount)
	fmt.Fprintf(&w, "errors:          %d\n", st.ErrorCount)
	fmt.Fprintf(&w, "frame timeouts:  %d\n", st.FrameTimeouts)
	fmt.Fprintf(&w, "resyncs:         %d\n", st.Resyncs)
	fmt.Fprintf(&w, "resync timeouts: %d\n", st.ResyncTimeouts)
	fmt.Fprintf(&w, "backlogs:        %d\n", st.Backlogs)
	if !st.LastPacketTime.IsZero() {
		fmt.Fprintf(&w, "last packet:     %s\n", st.LastPacketTime.Format(time.RFC3339Nano))
	}
	if st.PacketCount+st.ErrorCount > 0 {
		fmt.Fprintf(&w, "error rate:      %.2f%%\n", float64(st.ErrorCount)*100/float64(st.PacketCount+st.ErrorCount))
	}
	return w.String()
}

func (s *Shell) printMessage(c *ishell.Context, msg msgs.Message, text string) {
	if !s.OutputJSON {
		c.Println(text)
		return
	}
	out, err := json.Marshal(msg.Serializable())
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(string(out))
}

func sendCommand(cmd maco2.Command) func(c *ishell.Context) {
	return MustBeOpen(func(c *ishell.Context, s *Session) {
		if err := maco2.SendCommand(s.Port, cmd); err != nil {
			c.Err(err)
			return
		}
		c.Println("OK")
	})
}

func parseDuration(args []string, def time.Duration) (time.Duration, error) {
	if len(args) == 0 {
		return def, nil
	}
	return time.ParseDuration(args[0])
}

var (
	// PortsCmd lists serial ports.
	PortsCmd = ishell.Cmd{
		Name: "ports",
		Help: "list serial ports",
		Func: func(c *ishell.Context) {
			ports, err := serial.ListPorts()
			if err != nil {
				c.Err(err)
				return
			}
			if len(ports) == 0 {
				c.Println("No serial ports found")
				return
			}
			for _, p := range ports {
				c.Println(p)
			}
		},
	}

	// OpenCmd opens a serial port.
	OpenCmd = ishell.Cmd{
		Name:    "open",
		Aliases: []string{"o"},
		Help:    "[PATH] [BAUD]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			path, baud := s.Config.Port, s.Config.BaudRate
			if len(c.Args) > 0 {
				path = c.Args[0]
			}
			if len(c.Args) > 1 {
				val, err := strconv.Atoi(c.Args[1])
				if err != nil {
					c.Err(fmt.Errorf("Invalid BAUD: %v", err))
					return
				}
				baud = val
			}
			if err := s.Open(path, baud); err != nil {
				c.Err(err)
			}
		},
	}

	// CloseCmd closes the serial port.
	CloseCmd = ishell.Cmd{
		Name: "close",
		Help: "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Close()
		},
	}

	// InitCmd runs the sensor handshake.
	InitCmd = ishell.Cmd{
		Name: "init",
		Help: "[TIMEOUT]",
		Func: MustBeOpen(func(c *ishell.Context, s *Session) {
			timeout, err := parseDuration(c.Args, ShellFrom(c).Config.HandshakeTimeout)
			if err != nil {
				c.Err(fmt.Errorf("Invalid TIMEOUT: %v", err))
				return
			}
			if err := s.Parser.Initialize(context.Background(), s.Port, timeout); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		}),
	}

	// ReadCmd prints measurements for a while.
	ReadCmd = ishell.Cmd{
		Name:    "read",
		Aliases: []string{"r"},
		Help:    "[DURATION]",
		Func: MustBeOpen(func(c *ishell.Context, s *Session) {
			sh := ShellFrom(c)
			dur, err := parseDuration(c.Args, time.Second)
			if err != nil {
				c.Err(fmt.Errorf("Invalid DURATION: %v", err))
				return
			}
			deadline := time.Now().Add(dur)
			for time.Now().Before(deadline) {
				for _, m := range s.Parser.IngestAll(s.Port) {
					sh.printMessage(c, msgs.NewMeasurementEvent(m), FormatMeasurement(m))
				}
				time.Sleep(sh.Config.PollInterval)
			}
		}),
	}

	// StatsCmd prints parser statistics.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "",
		Func: MustBeOpen(func(c *ishell.Context, s *Session) {
			st := s.Parser.Statistics()
			ShellFrom(c).printMessage(c, msgs.NewStatisticsEvent(st), FormatStatistics(st, s.Parser.State()))
		}),
	}

	// ResetCmd resets parser statistics.
	ResetCmd = ishell.Cmd{
		Name: "reset",
		Help: "",
		Func: MustBeOpen(func(c *ishell.Context, s *Session) {
			s.Parser.ResetStatistics()
		}),
	}

	// PumpCmd starts the sampling pump.
	PumpCmd = ishell.Cmd{
		Name: "pump",
		Help: "start sampling pump",
		Func: sendCommand(maco2.CommandStartPump),
	}

	// ZeroCmd starts zero calibration.
	ZeroCmd = ishell.Cmd{
		Name: "zero",
		Help: "zero calibration",
		Func: sendCommand(maco2.CommandZeroCalibration),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	env.SetupFlags()
	flag.Parse()
	New(env.MustNewConfig()).WithAutoOpen(len(flag.Args()) > 0).Run(flag.Args()...)
}
