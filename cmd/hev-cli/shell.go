package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/kstaniek/go-hev-server/internal/api"
)

const (
	shellKey          = "$shell"
	defaultWatchCount = 10
	discoverWait      = 2 * time.Second
)

// Shell is the ishell front end over a client.
type Shell struct {
	Interactive bool
	OutputJSON  bool

	Shell  *ishell.Shell
	Client *client
}

var commands = []*ishell.Cmd{
	&SetModeCmd,
	&SetThresholdsCmd,
	&SetupCmd,
	&ModesCmd,
	&WatchCmd,
	&DiscoverCmd,
	&ConnectCmd,
}

// NewShell creates a shell bound to c.
func NewShell(c *client, interactive, outputJSON bool) *Shell {
	s := &Shell{
		Interactive: interactive,
		OutputJSON:  outputJSON,
		Shell:       ishell.New(),
		Client:      c,
	}
	s.Shell.Set(shellKey, s)
	s.setPrompt()
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

func shellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

func (s *Shell) setPrompt() {
	s.Shell.SetPrompt(fmt.Sprintf("[%s] > ", s.Client.requestAddr))
}

// Run processes args as one command, or starts the interactive loop.
func (s *Shell) Run(args ...string) error {
	if len(args) > 0 {
		return s.Shell.Process(args...)
	}
	if !s.Interactive {
		return fmt.Errorf("command expected")
	}
	s.Shell.Run()
	return nil
}

// parseThresholds converts decimal arguments to threshold values.
func parseThresholds(args []string) ([]uint32, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one THRESHOLD required")
	}
	if len(args) > api.MaxThresholds {
		return nil, fmt.Errorf("at most %d thresholds", api.MaxThresholds)
	}
	out := make([]uint32, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseUint(a, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid THRESHOLD %q: %v", a, err)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

// formatReply renders a reply for humans.
func formatReply(r api.Reply) string {
	switch r.Type {
	case api.TypeNack:
		if r.Error != "" {
			return "NACK " + r.Error
		}
		return "NACK"
	case api.TypeAckMode:
		return "OK mode=" + r.Mode
	case api.TypeAckThresholds:
		return fmt.Sprintf("OK thresholds=%v", r.Thresholds)
	default:
		return fmt.Sprintf("OK mode=%s thresholds=%v", r.Mode, r.Thresholds)
	}
}

// doRequest sends req and prints the reply.
func doRequest(c *ishell.Context, req api.Request) {
	s := shellFrom(c)
	reply, err := s.Client.request(req)
	if err != nil {
		c.Err(err)
		return
	}
	if s.OutputJSON {
		out, err := json.Marshal(reply)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(formatReply(reply))
}

var (
	// SetModeCmd switches the ventilation mode.
	SetModeCmd = ishell.Cmd{
		Name:    "setmode",
		Aliases: []string{"mode"},
		Help:    "MODE",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("MODE required (%s)", strings.Join(api.ModeNames(), "|")))
				return
			}
			doRequest(c, api.Request{Type: api.TypeSetMode, Mode: c.Args[0]})
		},
	}

	// SetThresholdsCmd replaces the alarm thresholds.
	SetThresholdsCmd = ishell.Cmd{
		Name:    "setthresholds",
		Aliases: []string{"th"},
		Help:    "THRESHOLD...",
		Func: func(c *ishell.Context) {
			th, err := parseThresholds(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			doRequest(c, api.Request{Type: api.TypeSetThresholds, Thresholds: th})
		},
	}

	// SetupCmd sets mode and thresholds in one request.
	SetupCmd = ishell.Cmd{
		Name: "setup",
		Help: "MODE THRESHOLD...",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("MODE and at least one THRESHOLD required"))
				return
			}
			th, err := parseThresholds(c.Args[1:])
			if err != nil {
				c.Err(err)
				return
			}
			doRequest(c, api.Request{Type: api.TypeSetup, Mode: c.Args[0], Thresholds: th})
		},
	}

	ModesCmd = ishell.Cmd{
		Name: "modes",
		Help: "",
		Func: func(c *ishell.Context) {
			c.Println(strings.Join(api.ModeNames(), " "))
		},
	}

	// WatchCmd prints broadcasts. COUNT 0 streams until the server hangs up.
	WatchCmd = ishell.Cmd{
		Name:    "watch",
		Aliases: []string{"w"},
		Help:    "[COUNT]",
		Func: func(c *ishell.Context) {
			s := shellFrom(c)
			count := defaultWatchCount
			if len(c.Args) > 0 {
				n, err := strconv.Atoi(c.Args[0])
				if err != nil || n < 0 {
					c.Err(fmt.Errorf("invalid COUNT %q", c.Args[0]))
					return
				}
				count = n
			}
			err := s.Client.watch(context.Background(), count, func(b api.Broadcast, raw []byte) {
				if s.OutputJSON {
					c.Println(string(raw))
					return
				}
				c.Printf("sensors=%v alarms=%v\n", b.Sensors, b.Alarms)
			})
			if err != nil {
				c.Err(err)
			}
		},
	}

	// DiscoverCmd lists servers advertised via mDNS.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := shellFrom(c)
			found, err := discover(context.Background(), discoverWait)
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if found == nil {
					found = []server{}
				}
				out, err := json.Marshal(found)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			if len(found) == 0 {
				c.Println("No servers found")
				return
			}
			for _, sv := range found {
				c.Printf("%s: request %s broadcast %s\n", sv.Name, sv.Request, strings.Join(sv.Broadcast, ","))
			}
		},
	}

	// ConnectCmd points the shell at another server.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "REQUEST_ADDR [BROADCAST_ADDR]",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("REQUEST_ADDR required"))
				return
			}
			s := shellFrom(c)
			s.Client.requestAddr = c.Args[0]
			if len(c.Args) > 1 {
				s.Client.broadcastAddr = c.Args[1]
			}
			s.setPrompt()
		},
	}
)
