// notifytail подключается к сокету уведомлений (или чата) и печатает входящие кадры в терминал.
package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/classfeed/internal/config"
	"github.com/classfeed/internal/frame"
	"github.com/classfeed/internal/logger"
	"github.com/classfeed/internal/model"
	"github.com/classfeed/internal/socket"
	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"
)

type options struct {
	Username  string `short:"u" long:"username" description:"Student username (defaults to CLIENT_USERNAME)"`
	SocketURL string `short:"s" long:"socket" description:"Socket base URL (defaults to SOCKET_URL)"`
	Chat      bool   `short:"c" long:"chat" description:"Tail the group chat socket instead of notifications"`
	Raw       bool   `short:"r" long:"raw" description:"Print raw frames as received"`
}

var (
	typeColor = map[model.NotificationType]*color.Color{
		model.NotificationHomework:           color.New(color.FgCyan, color.Bold),
		model.NotificationHomeworkDispatch:   color.New(color.FgGreen),
		model.NotificationClasswork:          color.New(color.FgYellow),
		model.NotificationHomeworkCompletion: color.New(color.FgMagenta),
	}
	dim  = color.New(color.FgHiBlack)
	warn = color.New(color.FgRed)
)

func main() {
	logger.SetPrefix("notifytail")
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	if opts.Username == "" {
		opts.Username = cfg.Username
	}
	if opts.SocketURL == "" {
		opts.SocketURL = cfg.SocketURL
	}
	if opts.Username == "" {
		warn.Fprintln(os.Stderr, "username is required (-u or CLIENT_USERNAME)")
		os.Exit(2)
	}

	path := "/ws/notifications/"
	if opts.Chat {
		path = "/ws/chat/"
	}
	base := strings.TrimSuffix(opts.SocketURL, "/")
	var mgr *socket.Manager
	mgr = socket.NewManager(socket.Options{
		Name: strings.Trim(path, "/"),
		URL:  func(u string) string { return base + path + url.PathEscape(u) + "/" },
		Backoff: socket.Backoff{
			Base:        cfg.Reconnect.BaseDelay,
			Max:         cfg.Reconnect.MaxDelay,
			Multiplier:  cfg.Reconnect.Multiplier,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
		Dialer: socket.WebsocketDialer{ReadLimit: cfg.WSMaxMessageSize},
		OnFrame: func(data []byte) {
			printFrame(os.Stdout, data, opts.Raw, time.Now())
		},
		OnState: func(st socket.State) {
			dim.Fprintf(os.Stderr, "socket %s\n", st)
			if opts.Chat && st == socket.StateOpen {
				if err := mgr.Send(frame.ListGroups{Action: frame.ActionListGroups}); err != nil {
					warn.Fprintf(os.Stderr, "list_groups: %v\n", err)
				}
			}
		},
	})
	mgr.Connect(opts.Username)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	mgr.Close()
	mgr.Wait()
}

// printFrame печатает строку на кадр: уведомления цветом своего типа, кадры чата по type,
// неизвестные и битые приглушённо.
func printFrame(w io.Writer, data []byte, raw bool, now time.Time) {
	if raw {
		fmt.Fprintln(w, string(data))
		return
	}
	f, err := frame.Decode(data)
	if err != nil {
		warn.Fprintf(w, "malformed frame: %v\n", err)
		return
	}
	if n, ok := frame.Classify(f, now); ok {
		c := typeColor[n.Type]
		if c == nil {
			c = dim
		}
		c.Fprintf(w, "[%s] %s", n.Type, n.Message)
		dim.Fprintf(w, "  id=%s at %s\n", n.ID, n.Timestamp)
		return
	}
	switch v := f.(type) {
	case *frame.GroupMessage:
		msg := v.ChatMessage()
		text := msg.Body.Text
		if msg.Body.Kind == model.BodySharedQuestions {
			text = fmt.Sprintf("shared %d questions", len(msg.Body.SharedQuestions.Questions))
		}
		fmt.Fprintf(w, "[group %s] %s: %s\n", msg.GroupID, msg.Sender.Username, text)
	case *frame.Unknown:
		dim.Fprintf(w, "unknown frame type=%s\n", v.Type)
	default:
		dim.Fprintf(w, "%s\n", f.FrameType())
	}
}
