package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/engine"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/optimistic"
	"github.com/chatsync/internal/outbox"
	"github.com/chatsync/internal/realtime"
	"github.com/chatsync/internal/startup"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	tailRows     int
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().IntVar(&historyLimit, "history", 50, "messages to load when the conversation opens")
	chatCmd.Flags().IntVar(&tailRows, "tail", 20, "rows to print after every change")
}

var chatCmd = &cobra.Command{
	Use:   "chat [conversation-key]",
	Short: "Open a conversation (team-<id> or dm-<user id>)",
	Long: `Open a conversation and type messages. Lines starting with / are commands,
see /help. Unsent messages stay in the outbox until they are confirmed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, err := model.ParseConversation(args[0])
		if err != nil {
			return err
		}
		if err := cfg.ValidateClient(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runChat(ctx, conv, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func runChat(ctx context.Context, conv model.Conversation, in io.Reader, out io.Writer) error {
	kv, err := startup.OpenOutboxKV(ctx, cfg)
	if err != nil {
		return err
	}
	defer kv.Close()
	box := outbox.New(kv, outbox.WithKey(cfg.Outbox.Key), outbox.WithTTL(cfg.Outbox.TTL))

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	self := optimistic.Identity{ID: model.ID(cfg.UserID), Name: cfg.UserName}

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr)
	}

	screen := newScreen(out, self.ID, tailRows)
	opts := []engine.Option{
		engine.WithOnChange(screen.Update),
		engine.WithOnTyping(screen.Typing),
		engine.WithReadDelay(cfg.ReadBatchDelay),
		engine.WithDuplicateWindow(cfg.DuplicateWindow),
	}
	conn, bridge, err := connectRealtime(ctx, client, self.ID)
	if err != nil {
		logger.Errorf("chatclient: без realtime, обновления только после отправки: %v", err)
	} else {
		defer conn.Close()
		opts = append(opts, engine.WithBridge(bridge))
	}

	eng := engine.New(client, box, self, opts...)
	defer eng.Close()

	history, err := client.History(ctx, conv, "", historyLimit)
	if err != nil {
		return fmt.Errorf("chat: load history: %w", err)
	}
	if err := eng.Open(ctx, conv, history); err != nil {
		return fmt.Errorf("chat: open %s: %w", conv, err)
	}
	if bridge != nil {
		go bridge.Run(ctx, eng)
	}
	go screen.Run(ctx, eng)

	sh := &shell{eng: eng, mod: client, out: out}
	fmt.Fprintf(out, "%s opened as %s, /help for commands\n", conv, self.ID)
	return sh.Loop(ctx, in)
}

func newAPIClient() (*api.Client, error) {
	return api.New(api.Options{
		BaseURL:       cfg.APIURL,
		UserID:        model.ID(cfg.UserID),
		UserName:      cfg.UserName,
		SessionID:     cfg.SessionID,
		SessionSecret: cfg.SessionSecret,
		Timeout:       cfg.SendTimeout,
	})
}

// connectRealtime dials the websocket and joins the private user channel.
func connectRealtime(ctx context.Context, client *api.Client, self model.ID) (*realtime.Conn, *realtime.Bridge, error) {
	u, err := url.Parse(cfg.WSURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chat: ws url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", self.String())
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := realtime.Dial(dialCtx, u.String(), client.Header(http.MethodGet, u.Path))
	if err != nil {
		return nil, nil, err
	}
	bridge := realtime.NewBridge(conn, self, realtime.WithTypingThrottle(cfg.TypingThrottle))
	if err := bridge.Start(); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, bridge, nil
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Infof("chatclient: метрики на %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("chatclient: метрики: %v", err)
	}
}

// readLines feeds lines of in until EOF or ctx ends. The channel is closed at the end.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			logger.Errorf("chatclient: stdin: %v", err)
		}
	}()
	return lines
}
