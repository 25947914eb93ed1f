// Command rtc is the realtime client: it logs in, holds the websocket
// session, routes notifications, and exposes a small interactive prompt
// for sending operations.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"social-rtc/internal/dispatch"
	"social-rtc/internal/domain"
	"social-rtc/internal/httpapi"
	"social-rtc/internal/infra/config"
	"social-rtc/internal/infra/logger"
	"social-rtc/internal/infra/tracer"
	"social-rtc/internal/notify"
	"social-rtc/internal/session"
	"social-rtc/internal/transport"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "encrypt":
			if err := runEncrypt(); err != nil {
				fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`rtc - realtime social client

USAGE:
    rtc [COMMAND]

COMMANDS:
    (none)     Connect and start the interactive prompt
    encrypt    Encrypt a secret for use in the config file
    help       Show this message

CONFIG:
    Reads ~/.social-rtc/config.yaml (override with SOCIALRTC_CONFIG).
    SOCIALRTC_CONFIG_KEY decrypts "enc:" values in the config.

PROMPT:
    msg <user-id> <text>      send a private message
    gmsg <group-id> <text>    send a group message
    follow <user-id>          send a follow request
    join <group-id>           request to join a group
    invite <group-id> <user>  invite a user to a group
    inbox                     list recent notifications
    read <notification-id>    mark a notification read
    prune [days]              drop read notifications older than N days (30)
    status                    show session state
    quit                      log out and exit`)
}

// runEncrypt encrypts stdin-provided plaintext with SOCIALRTC_CONFIG_KEY.
func runEncrypt() error {
	passphrase := os.Getenv("SOCIALRTC_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("SOCIALRTC_CONFIG_KEY must be set")
	}

	fmt.Fprint(os.Stderr, "secret: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}

	encrypted, err := config.EncryptValue(strings.TrimSpace(line), passphrase)
	if err != nil {
		return err
	}
	fmt.Printf("enc:%s\n", encrypted)
	return nil
}

func configPath() string {
	if p := os.Getenv("SOCIALRTC_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".social-rtc", "config.yaml")
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. REST client & login
	api, err := httpapi.NewClient(httpapi.Config{
		BaseURL:     cfg.Server.BaseURL,
		ConnTimeout: cfg.Server.ConnTimeout,
		RespTimeout: cfg.Server.RespTimeout,
		Breaker: httpapi.BreakerConfig{
			MaxFailures: cfg.Server.Breaker.MaxFailures,
			Timeout:     cfg.Server.Breaker.Timeout,
			Interval:    cfg.Server.Breaker.Interval,
		},
	}, log)
	if err != nil {
		return fmt.Errorf("httpapi: %w", err)
	}

	if _, err := api.Login(ctx, cfg.Server.Email, cfg.Server.Password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := api.Logout(logoutCtx); err != nil {
			log.Warn("logout failed", "error", err)
		}
	}()

	// 4. Event dispatcher
	bus := dispatch.New(log)

	// 5. Inbox store & notification router
	var inbox domain.InboxStore
	if cfg.Inbox.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Inbox.Path), 0700); err != nil {
			return fmt.Errorf("inbox dir: %w", err)
		}
		store, err := notify.NewSQLiteInbox(cfg.Inbox.Path)
		if err != nil {
			return fmt.Errorf("inbox: %w", err)
		}
		defer store.Close()
		inbox = store
	}
	router := notify.NewRouter(bus, inbox, log)
	router.Start()
	defer router.Stop()

	// 6. Session
	sess := session.New(session.Config{
		Debounce:             cfg.Session.Debounce,
		DialTimeout:          cfg.Session.DialTimeout,
		CallTimeout:          cfg.Session.CallTimeout,
		ReconnectBase:        cfg.Session.ReconnectBase,
		MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
		SendRate:             rate.Limit(cfg.Session.SendRate),
		SendBurst:            cfg.Session.SendBurst,
	}, transport.Dialer(api.HTTPClient(), nil), bus, log)

	sess.SetAuthenticated(true)
	defer sess.Disconnect()

	if err := sess.Connect(ctx, api.WebSocketURL()); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	// 7. Console subscribers
	attachConsole(bus)

	// 8. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return prompt(ctx, sess, inbox)
}

// attachConsole prints the event streams a UI would normally render.
func attachConsole(bus *dispatch.Dispatcher) {
	bus.Subscribe(domain.EventConnection, func(ev domain.Event) {
		if change, ok := ev.Payload.(domain.ConnectionChange); ok {
			fmt.Printf("* connection: %s\n", change.Status)
		}
	})
	bus.Subscribe(domain.EventPrivateMessage, func(ev domain.Event) {
		if msg, ok := ev.Payload.(domain.ChatMessage); ok {
			fmt.Printf("[dm] %s: %s\n", msg.Sender.DisplayName(), msg.Message)
		}
	})
	bus.Subscribe(domain.EventGroupMessage, func(ev domain.Event) {
		if msg, ok := ev.Payload.(domain.ChatMessage); ok {
			fmt.Printf("[group %s] %s: %s\n", msg.GroupID, msg.Sender.DisplayName(), msg.Message)
		}
	})
	for _, kind := range []domain.EventType{
		domain.EventFollowRequest,
		domain.EventGroupJoinRequest,
		domain.EventGroupJoinResponse,
		domain.EventGroupInvitation,
		domain.EventGroupViewInvitation,
		domain.EventGroupEvent,
	} {
		bus.Subscribe(kind, func(ev domain.Event) {
			if n, ok := ev.Payload.(*domain.UINotification); ok {
				fmt.Printf("! %s: %s\n", n.Title, n.Body)
			}
		})
	}
}

// prompt is the interactive read loop. It returns when the user quits
// or the context is cancelled.
func prompt(ctx context.Context, sess *session.Session, inbox domain.InboxStore) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println("connected. type 'help' for commands.")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleCommand(ctx, sess, inbox, line); quit {
				return nil
			}
		}
	}
}

func handleCommand(ctx context.Context, sess *session.Session, inbox domain.InboxStore, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "quit", "exit":
		return true
	case "help":
		showUsage()
	case "status":
		info := sess.Info()
		fmt.Printf("state=%s url=%s attempts=%d pending=%d\n",
			info.State, info.URL, info.ReconnectAttempts, info.PendingCalls)
	case "msg":
		if len(fields) < 3 {
			fmt.Println("usage: msg <user-id> <text>")
			return false
		}
		report(sess.Call(ctx, domain.OpPrivateMessage, map[string]any{
			"recipient_Id": fields[1],
			"message":      strings.Join(fields[2:], " "),
		}))
	case "gmsg":
		if len(fields) < 3 {
			fmt.Println("usage: gmsg <group-id> <text>")
			return false
		}
		report(sess.Call(ctx, domain.OpGroupMessage, map[string]any{
			"group_id": fields[1],
			"message":  strings.Join(fields[2:], " "),
		}))
	case "follow":
		if len(fields) != 2 {
			fmt.Println("usage: follow <user-id>")
			return false
		}
		report(sess.Call(ctx, domain.OpFollowRequest, map[string]any{
			"recipient_Id": fields[1],
		}))
	case "join":
		if len(fields) != 2 {
			fmt.Println("usage: join <group-id>")
			return false
		}
		report(sess.Call(ctx, domain.OpGroupJoinRequest, map[string]any{
			"group_id": fields[1],
		}))
	case "invite":
		if len(fields) != 3 {
			fmt.Println("usage: invite <group-id> <user-id>")
			return false
		}
		report(sess.Call(ctx, domain.OpGroupInvitation, map[string]any{
			"group_id":     fields[1],
			"recipient_Id": fields[2],
		}))
	case "inbox":
		if inbox == nil {
			fmt.Println("inbox disabled")
			return false
		}
		items, err := inbox.List(20)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		for _, n := range items {
			marker := " "
			if !n.Read {
				marker = "*"
			}
			fmt.Printf("%s %s  %s - %s\n", marker, n.ID, n.Title, n.Body)
		}
	case "read":
		if inbox == nil || len(fields) != 2 {
			fmt.Println("usage: read <notification-id>")
			return false
		}
		if err := inbox.MarkRead(fields[1]); err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		// Tell the server too; read receipts are fire-and-forget.
		if err := sess.Send(ctx, domain.OpReadNotification, map[string]any{
			"notification_id": fields[1],
		}); err != nil && !errors.Is(err, domain.ErrConnectionUnavailable) {
			fmt.Printf("error: %v\n", err)
		}
	case "prune":
		if inbox == nil {
			fmt.Println("inbox disabled")
			return false
		}
		days := 30
		if len(fields) == 2 {
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 1 {
				fmt.Println("usage: prune [days]")
				return false
			}
			days = n
		}
		pruned, err := inbox.Prune(time.Now().AddDate(0, 0, -days))
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		fmt.Printf("pruned %d notifications\n", pruned)
	default:
		fmt.Printf("unknown command %q, try 'help'\n", fields[0])
	}
	return false
}

func report(result session.Result, err error) {
	switch {
	case err != nil:
		fmt.Printf("error: %v\n", err)
	case result.Silent:
		fmt.Println("sent")
	default:
		fmt.Printf("ok: %s\n", result.Message)
	}
}
