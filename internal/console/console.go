// Package console is a line-oriented front end for the session manager. Every
// line typed counts as user activity.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/aussiebroadwan/studyhall/internal/doccache"
	"github.com/aussiebroadwan/studyhall/pkg/sessionsdk"
)

// Session is the part of *sessionsdk.Manager the console drives.
type Session interface {
	Login(ctx context.Context, email, password string) error
	Logout(ctx context.Context)
	RefreshTokenNow(ctx context.Context) (bool, error)
	NotifyActivity()
	SetVisible(visible bool)
	IsAuthenticated() bool
	CurrentUser() (sessionsdk.User, bool)
}

// Documents opens study documents. *doccache.Cache implements it.
type Documents interface {
	Open(path string) (doccache.Document, bool, error)
}

const help = `commands:
  login <email> <password>  start a session
  logout                    end the session
  status                    show who is logged in
  refresh                   renew the access token now
  hide | show               simulate the window losing or regaining focus
  open <file>               extract a study document
  quit                      leave, keeping the session for next time`

// Console reads commands from in and writes results to out.
type Console struct {
	session Session
	docs    Documents
	in      io.Reader
	logger  *slog.Logger

	mu  sync.Mutex
	out io.Writer
}

func New(session Session, docs Documents, in io.Reader, out io.Writer, logger *slog.Logger) *Console {
	return &Console{
		session: session,
		docs:    docs,
		in:      in,
		out:     out,
		logger:  logger,
	}
}

// Run processes lines until quit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.printf("studyhall ready, type 'help' for commands\n")

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if c.Execute(ctx, line) {
				return nil
			}
		}
	}
}

// Execute runs a single command line and reports whether the console should
// exit.
func (c *Console) Execute(ctx context.Context, line string) (quit bool) {
	c.session.NotifyActivity()

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "help", "?":
		c.printf("%s\n", help)

	case "login":
		if len(args) != 2 {
			c.printf("usage: login <email> <password>\n")
			return false
		}
		c.login(ctx, args[0], args[1])

	case "logout":
		if !c.session.IsAuthenticated() {
			c.printf("not logged in\n")
			return false
		}
		c.session.Logout(ctx)

	case "status":
		c.status()

	case "refresh":
		ok, err := c.session.RefreshTokenNow(ctx)
		switch {
		case errors.Is(err, sessionsdk.ErrNoSession):
			c.printf("not logged in\n")
		case ok:
			c.printf("token refreshed\n")
		default:
			c.printf("refresh failed, please log in again\n")
		}

	case "hide":
		c.session.SetVisible(false)
		c.printf("hidden\n")

	case "show":
		c.session.SetVisible(true)
		c.printf("visible\n")

	case "open":
		if len(args) != 1 {
			c.printf("usage: open <file>\n")
			return false
		}
		c.open(args[0])

	case "quit", "exit":
		return true

	default:
		c.printf("unknown command %q, type 'help'\n", cmd)
	}

	return false
}

// SessionEnded reports a session that ended without a command, such as an
// inactivity logout. Wire it to sessionsdk.Options.OnLogout.
func (c *Console) SessionEnded(reason sessionsdk.Reason) {
	switch reason {
	case sessionsdk.ReasonLogout:
		c.printf("logged out\n")
	case sessionsdk.ReasonInactivity:
		c.printf("logged out after a period of inactivity\n")
	case sessionsdk.ReasonRefreshFailed:
		c.printf("your session expired, please log in again\n")
	case sessionsdk.ReasonEndedElsewhere:
		c.printf("you were logged out in another window\n")
	default:
		c.printf("session ended (%s)\n", reason)
	}
}

func (c *Console) login(ctx context.Context, email, password string) {
	err := c.session.Login(ctx, email, password)

	var srvErr *sessionsdk.NetworkOrServerError
	switch {
	case err == nil:
		user, _ := c.session.CurrentUser()
		c.printf("welcome, %s\n", displayName(user))
	case errors.Is(err, sessionsdk.ErrInvalidCredentials):
		c.printf("invalid email or password\n")
	case errors.Is(err, sessionsdk.ErrLoginThrottled):
		c.printf("too many attempts, wait a moment and try again\n")
	case errors.As(err, &srvErr):
		c.logger.Warn("login failed", "error", err)
		c.printf("could not reach the server, please try again\n")
	default:
		c.logger.Error("login failed", "error", err)
		c.printf("login failed: %v\n", err)
	}
}

func (c *Console) status() {
	user, ok := c.session.CurrentUser()
	if !ok {
		c.printf("not logged in\n")
		return
	}
	c.printf("logged in as %s <%s> (%s)\n", displayName(user), user.Email, user.Role)
}

func (c *Console) open(path string) {
	if !c.session.IsAuthenticated() {
		c.printf("log in to open documents\n")
		return
	}

	doc, cached, err := c.docs.Open(path)
	if err != nil {
		c.printf("cannot open %s: %v\n", path, err)
		return
	}

	source := "extracted"
	if cached {
		source = "cached"
	}
	c.printf("%s: %q, %d words (%s)\n", path, doc.Title, doc.Words, source)
	if doc.Truncated {
		c.printf("document truncated to %d bytes\n", doccache.MaxDocumentSize)
	}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func displayName(u sessionsdk.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}
