package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/kivups/kivups-client/internal/client"
	"github.com/kivups/kivups-client/internal/config"
	"github.com/kivups/kivups-client/internal/logging"
	"github.com/kivups/kivups-client/internal/session"
	"github.com/kivups/kivups-client/internal/transport"
	"github.com/kivups/kivups-client/internal/version"
)

// globalFlags holds double-dash flags parsed from os.Args.
// rest contains the remaining arguments with known flags stripped.
type globalFlags struct {
	version bool
	quic    bool
	ws      bool
	config  string
	host    string
	port    int
	name    string
	rest    []string
}

// parseGlobalFlags extracts double-dash flags from args (os.Args[1:]).
// Supports --flag value and --flag=value forms.
func parseGlobalFlags(args []string) (globalFlags, error) {
	var g globalFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		takeValue := func() (string, error) {
			if hasValue {
				return value, nil
			}
			if i+1 >= len(args) {
				return "", fmt.Errorf("%s needs a value", name)
			}
			i++
			return args[i], nil
		}

		var err error
		switch name {
		case "--version":
			g.version = true
		case "--quic":
			g.quic = true
		case "--ws":
			g.ws = true
		case "--config":
			g.config, err = takeValue()
		case "--host":
			g.host, err = takeValue()
		case "--name":
			g.name, err = takeValue()
		case "--port":
			var v string
			if v, err = takeValue(); err == nil {
				if g.port, err = strconv.Atoi(v); err != nil {
					err = fmt.Errorf("--port: %q is not a number", v)
				}
			}
		default:
			g.rest = append(g.rest, arg)
		}
		if err != nil {
			return g, err
		}
	}
	return g, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kivups [--config file] [--host host] [--port port] [--name name] [--quic | --ws]")
	fmt.Fprintln(os.Stderr, "       kivups version")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "flags:")
	fmt.Fprintln(os.Stderr, "  --config <file>   TOML or YAML client configuration")
	fmt.Fprintln(os.Stderr, "  --host <host>     game server host (default 127.0.0.1)")
	fmt.Fprintln(os.Stderr, "  --port <port>     game server port (default 8080)")
	fmt.Fprintln(os.Stderr, "  --name <name>     player name (prompted when missing)")
	fmt.Fprintln(os.Stderr, "  --quic            dial a QUIC gateway instead of plain TCP")
	fmt.Fprintln(os.Stderr, "  --ws              dial a WebSocket gateway instead of plain TCP")
	fmt.Fprintln(os.Stderr, "  --version         print version and exit")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintf(os.Stderr, "environment: %s, %s\n", logging.EnvLogLevel, logging.EnvLogFormat)
}

func main() {
	gf, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		usage()
		os.Exit(2)
	}

	if gf.version || (len(gf.rest) > 0 && gf.rest[0] == "version") {
		fmt.Println(version.String())
		os.Exit(0)
	}
	if len(gf.rest) > 0 {
		fmt.Fprintf(os.Stderr, "error: unexpected argument %q\n", gf.rest[0])
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(gf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stderr, cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	if cfg.Name == "" {
		if cfg.Name, err = promptName(); err != nil {
			fmt.Fprintf(os.Stderr, "name: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := session.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := run(ctx, s, client.New(s, logger)); err != nil {
		fmt.Fprintf(os.Stderr, "client exited: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the optional config file and flags.
func loadConfig(gf globalFlags) (config.Config, error) {
	cfg := config.Default()
	if gf.config != "" {
		var err error
		if cfg, err = config.Load(gf.config); err != nil {
			return cfg, err
		}
	}
	if gf.host != "" {
		cfg.Host = gf.host
	}
	if gf.port != 0 {
		cfg.Port = gf.port
	}
	if gf.name != "" {
		cfg.Name = gf.name
	}
	switch {
	case gf.quic && gf.ws:
		return cfg, errors.New("--quic and --ws are mutually exclusive")
	case gf.quic:
		cfg.Transport = transport.DialQUIC.String()
	case gf.ws:
		cfg.Transport = transport.DialWS.String()
	}
	return cfg, cfg.Validate()
}

// promptName asks for the player name when stdin is a terminal.
func promptName() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("no --name given and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "player name: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// run starts the session, hands the terminal to the console once logged in,
// and returns when either side finishes.
func run(ctx context.Context, s *session.Session, console *client.Client) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.OnStateChange(console.ShowConnection)

	sessErr := make(chan error, 1)
	go func() {
		sessErr <- s.Run(ctx)
	}()

	select {
	case <-s.Ready:
		id := s.Identity()
		fmt.Printf("logged in to %s as %s (board %dx%d)\n", id.Address, id.Name, id.BoardSize, id.BoardSize)
	case err := <-sessErr:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	consoleErr := make(chan error, 1)
	go func() {
		consoleErr <- console.Run(ctx)
	}()

	select {
	case err := <-consoleErr:
		cancel()
		<-sessErr
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case err := <-sessErr:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}
