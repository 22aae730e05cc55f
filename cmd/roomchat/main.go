// Command roomchat is a terminal client for a studyroom server.
//
//	roomchat --server http://localhost:8080 --user alice --room algebra --token $TOKEN
//
// Every flag can also be set as ROOMCHAT_<FLAG>, e.g. ROOMCHAT_TOKEN.
// Without a token, --secret mints a development token with the server's
// AUTH_SECRET.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/putto11262002/studyroom/client"
	"github.com/putto11262002/studyroom/core"
	"github.com/putto11262002/studyroom/pkg/logger"
	"github.com/putto11262002/studyroom/pkg/proto"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const help = `commands:
  <text>               send a message
  /reply <id> <text>   reply to a message
  /react <id> <emoji>  react to a message
  /retry <id>          resend a failed message
  /who                 list online members
  /sync                fetch missed messages
  /quit                leave the room
`

type options struct {
	Server   string
	User     string
	Name     string
	Room     string
	Token    string
	Secret   string
	LogLevel string
}

func loadOptions(args []string) (options, error) {
	fs := pflag.NewFlagSet("roomchat", pflag.ContinueOnError)
	fs.String("server", "http://localhost:8080", "server base url")
	fs.String("user", "", "user id")
	fs.String("name", "", "display name used when minting a token")
	fs.String("room", "", "room to join")
	fs.String("token", "", "auth token")
	fs.String("secret", "", "base64 AUTH_SECRET of the server, mints a token when --token is empty")
	fs.String("log-level", "error", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("roomchat")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return options{}, err
	}

	o := options{
		Server:   v.GetString("server"),
		User:     v.GetString("user"),
		Name:     v.GetString("name"),
		Room:     v.GetString("room"),
		Token:    v.GetString("token"),
		Secret:   v.GetString("secret"),
		LogLevel: v.GetString("log-level"),
	}
	if o.User == "" || o.Room == "" {
		return o, fmt.Errorf("--user and --room are required")
	}
	if o.Token == "" {
		if o.Secret == "" {
			return o, fmt.Errorf("one of --token and --secret is required")
		}
		secret, err := base64.StdEncoding.DecodeString(o.Secret)
		if err != nil {
			return o, fmt.Errorf("--secret: %w", err)
		}
		name := o.Name
		if name == "" {
			name = o.User
		}
		o.Token, _, err = core.NewToken(o.User, name, 24*time.Hour, secret)
		if err != nil {
			return o, fmt.Errorf("mint token: %w", err)
		}
	}
	return o, nil
}

func main() {
	o, err := loadOptions(os.Args[1:])
	if err != nil {
		failed(2, "%v\n", err)
	}
	l, err := logger.New(os.Stderr, o.LogLevel, "text")
	if err != nil {
		failed(2, "%v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base := strings.TrimSuffix(o.Server, "/")
	engine, err := client.New(
		client.Config{UserID: o.User, RoomID: o.Room, Token: o.Token},
		&client.WSDialer{URL: "ws" + strings.TrimPrefix(base, "http") + "/ws", Logger: l},
		&client.HTTPPoller{BaseURL: base, Token: o.Token},
		client.WithLogger(l))
	if err != nil {
		failed(1, "%v\n", err)
	}
	defer engine.Close()

	r := newRenderer(os.Stdout, o.User)
	unsubscribe := engine.Subscribe(r.render)
	defer unsubscribe()

	if err := engine.Connect(ctx); err != nil {
		failed(1, "connect: %v\n", err)
	}
	fmt.Fprint(os.Stdout, help)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := run(ctx, engine, r, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

func run(ctx context.Context, e *client.Engine, r *renderer, line string) (quit bool) {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if _, err := e.SendMessage(ctx, line); err != nil {
			r.printf("! %v\n", err)
		}
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	arg, text, _ := strings.Cut(strings.TrimSpace(rest), " ")
	var err error
	switch cmd {
	case "/quit":
		return true
	case "/reply":
		_, err = e.SendReply(ctx, currentID(e, r.resolve(arg)), text)
	case "/react":
		err = e.React(ctx, currentID(e, r.resolve(arg)), text)
	case "/retry":
		err = e.Retry(ctx, r.resolve(arg))
	case "/who":
		r.printf("online: %s\n", strings.Join(e.Snapshot().OnlineMembers, ", "))
	case "/sync":
		err = e.PollReconcile(ctx)
	default:
		r.printf("%s", help)
	}
	if err != nil {
		r.printf("! %v\n", err)
	}
	return false
}

// currentID returns the id a message is known by now, which differs from the
// draft id once it has been acknowledged.
func currentID(e *client.Engine, id string) string {
	if m, ok := e.Snapshot().Message(id); ok {
		return m.ID
	}
	return id
}

// renderer prints what changed between two snapshots. Messages are listed
// with a short handle that commands accept in place of the full id.
type renderer struct {
	mu      sync.Mutex
	w       io.Writer
	self    string
	printed map[string]string
	handles map[string]string
	status  client.ConnectionStatus
	notice  *client.Notice
	system  *proto.SystemEvent
	typing  string
}

func newRenderer(w io.Writer, self string) *renderer {
	return &renderer{
		w:       w,
		self:    self,
		printed: make(map[string]string),
		handles: make(map[string]string),
	}
}

func (r *renderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format, args...)
}

// resolve maps a handle to the id it was printed with.
func (r *renderer) resolve(handle string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.handles[handle]; ok {
		return id
	}
	return handle
}

func (r *renderer) render(s client.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ConnectionStatus != r.status {
		r.status = s.ConnectionStatus
		if s.ConnectionStatus == client.StatusReconnecting {
			fmt.Fprintf(r.w, "-- reconnecting (attempt %d)\n", s.Attempt)
		} else {
			fmt.Fprintf(r.w, "-- %s\n", s.ConnectionStatus)
		}
	}

	for _, e := range unseen(s.System, &r.system) {
		fmt.Fprintf(r.w, "-- %s\n", e.Content)
	}

	for _, m := range s.Messages {
		key := m.ID
		if m.TempID != "" {
			key = m.TempID
		}
		status := string(m.Status)
		if prev, ok := r.printed[key]; ok && (prev == status || m.SenderID != r.self) {
			continue
		}
		_, seen := r.printed[key]
		r.printed[key] = status
		if !seen {
			handle := fmt.Sprintf("#%d", len(r.handles)+1)
			r.handles[handle] = key
			reply := ""
			if m.ReplyToID != "" {
				reply = " (reply)"
			}
			fmt.Fprintf(r.w, "%s %s [%s]%s: %s\n", handle, m.CreatedAt.Local().Format(time.Kitchen), m.SenderID, reply, m.Content)
		} else {
			fmt.Fprintf(r.w, "   %s %s\n", r.handleOf(key), status)
		}
	}

	for _, n := range unseen(s.Errors, &r.notice) {
		fmt.Fprintf(r.w, "! %s: %s\n", n.Code, n.Message)
	}

	typing := strings.Join(s.TypingUsers, ", ")
	if typing != r.typing && typing != "" {
		fmt.Fprintf(r.w, "-- %s typing\n", typing)
	}
	r.typing = typing
}

// unseen returns the entries of a capped, append-only list that come after
// *last, and advances *last.
func unseen[T comparable](all []T, last **T) []T {
	start := 0
	if *last != nil {
		for i := len(all) - 1; i >= 0; i-- {
			if all[i] == **last {
				start = i + 1
				break
			}
		}
	}
	if len(all) > 0 {
		tail := all[len(all)-1]
		*last = &tail
	}
	return all[start:]
}

func (r *renderer) handleOf(key string) string {
	for h, id := range r.handles {
		if id == key {
			return h
		}
	}
	return key
}

func failed(code int, s string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, s, args...)
	os.Exit(code)
}
