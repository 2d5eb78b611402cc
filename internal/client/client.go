// Package client is the terminal front end of a KIVUPS session: it reads
// commands from stdin, turns them into game actions and prints the game
// view whenever it changes.
package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/kivups/kivups-client/internal/game"
	"github.com/kivups/kivups-client/internal/journal"
	"github.com/kivups/kivups-client/internal/logging"
	"github.com/kivups/kivups-client/internal/recovery"
	"github.com/kivups/kivups-client/internal/session"
)

const (
	prompt       = "> "
	historyLines = 20
)

// Session is the part of session.Session the console drives.
type Session interface {
	Game() *game.State
	Identity() session.IdentityInfo
	State() session.ConnectionState
	ManualRetryAvailable() bool
	RecoveryState() recovery.State
	Reconnect(ctx context.Context) error
	History(n int) []journal.Entry
	Link() session.LinkInfo
}

// Client is the terminal-facing half of a game session.
type Client struct {
	sess  Session
	log   *slog.Logger
	stdin io.Reader
	// interactive is set when stdin is a terminal; prompts are only printed
	// then, so piped input produces clean output.
	interactive bool

	outMu    sync.Mutex
	stdout   io.Writer
	lastView string
}

// New creates a console on os.Stdin and os.Stdout. If stdin is not a
// terminal (pipe, file), prompts are skipped. For testing, use
// newTestClient instead.
func New(sess Session, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		sess:        sess,
		log:         logger.With("component", "client"),
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// newTestClient creates a console wired to the given reader and writer.
func newTestClient(sess Session, stdin io.Reader, stdout io.Writer) *Client {
	return &Client{
		sess:   sess,
		log:    logging.Discard(),
		stdin:  stdin,
		stdout: stdout,
	}
}

// Run prints the current view and executes commands until quit, end of
// input or ctx is done. Game view changes are printed as they happen.
func (c *Client) Run(ctx context.Context) error {
	// Permanent goroutine: read stdin
	lines := make(chan string, 4)
	go c.readStdin(lines)

	unsubscribe := c.sess.Game().Subscribe(c.ShowGame)
	defer unsubscribe()

	c.ShowGame(c.sess.Game().Snapshot())
	c.prompt()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := ParseCommand(line)
			if err != nil {
				c.printf("%v\n", err)
				c.prompt()
				continue
			}
			if cmd.Kind == CmdQuit {
				return nil
			}
			if err := c.execute(ctx, cmd); err != nil {
				c.printf("error: %v\n", err)
			}
			c.prompt()

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readStdin sends input lines to ch and closes it at end of input.
func (c *Client) readStdin(ch chan<- string) {
	defer close(ch)
	sc := bufio.NewScanner(c.stdin)
	for sc.Scan() {
		ch <- sc.Text()
	}
	if err := sc.Err(); err != nil {
		c.log.Warn("stdin read failed", "err", err)
	}
}

func (c *Client) execute(ctx context.Context, cmd Command) error {
	g := c.sess.Game()
	switch cmd.Kind {
	case CmdNone:
		return nil
	case CmdHelp:
		c.printf("%s", helpText)
		return nil
	case CmdJoin:
		return g.Join()
	case CmdMove:
		return g.Move(cmd.X, cmd.Y)
	case CmdAgain:
		return g.PlayAgain()
	case CmdBack:
		return g.ReturnToStart()
	case CmdReconnect:
		if !c.sess.ManualRetryAvailable() {
			c.printf("connection is %s, nothing to retry\n", c.sess.State())
			return nil
		}
		c.printf("reconnecting...\n")
		return c.sess.Reconnect(ctx)
	case CmdStatus:
		c.printf("%s", c.status())
		return nil
	case CmdBoard:
		c.printf("%s", c.sess.Game().Snapshot().Board.Render())
		return nil
	case CmdHistory:
		for _, e := range c.sess.History(historyLines) {
			c.printf("%s\n", e)
		}
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownCommand, cmd.Kind)
	}
}

func (c *Client) status() string {
	id := c.sess.Identity()
	snap := c.sess.Game().Snapshot()
	var sb strings.Builder
	fmt.Fprintf(&sb, "player:     %s\n", id.Name)
	fmt.Fprintf(&sb, "server:     %s\n", id.Address)
	fmt.Fprintf(&sb, "connection: %s (recovery %s)\n", c.sess.State(), c.sess.RecoveryState())
	if link := c.sess.Link(); link.Up {
		fmt.Fprintf(&sb, "link:       up to %s, generation %d\n", link.Address, link.Generation)
	} else {
		fmt.Fprintf(&sb, "link:       down\n")
	}
	fmt.Fprintf(&sb, "board size: %d\n", id.BoardSize)
	fmt.Fprintf(&sb, "phase:      %s\n", snap.Phase)
	if snap.Opponent != "" {
		fmt.Fprintf(&sb, "opponent:   %s\n", snap.Opponent)
	}
	return sb.String()
}

// ShowGame prints snap unless it renders the same as the last view.
func (c *Client) ShowGame(snap game.Snapshot) {
	view := RenderGame(snap)
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if view == c.lastView {
		return
	}
	c.lastView = view
	io.WriteString(c.stdout, view)
}

// ShowConnection prints a connection state change.
func (c *Client) ShowConnection(st session.ConnectionState) {
	c.printf("[connection %s]\n", st)
}

// RenderGame draws a snapshot as console text.
func RenderGame(snap game.Snapshot) string {
	var sb strings.Builder
	switch snap.Phase {
	case game.Lobby:
		sb.WriteString("In the lobby. Type join to find an opponent.\n")
	case game.Waiting:
		sb.WriteString("Waiting for an opponent...\n")
	case game.YourTurn:
		fmt.Fprintf(&sb, "Your turn against %s:\n", snap.Opponent)
		sb.WriteString(snap.Board.Render())
	case game.OtherTurn:
		fmt.Fprintf(&sb, "Waiting for %s:\n", snap.Opponent)
		sb.WriteString(snap.Board.Render())
	case game.GameOver:
		fmt.Fprintf(&sb, "Game over, result: %s\n", snap.Winner)
		sb.WriteString(snap.Board.Render())
		sb.WriteString("Type again for a rematch or back for the lobby.\n")
	}
	if snap.Notice != "" {
		fmt.Fprintf(&sb, "! %s\n", snap.Notice)
	}
	return sb.String()
}

func (c *Client) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.stdout, format, args...)
}

func (c *Client) prompt() {
	if c.interactive {
		c.printf(prompt)
	}
}
