// streamtest connects to a hub over the panel transport and prints every
// frame delivered on the chosen channels.
// Usage: go run ./cmd/streamtest --url ws://127.0.0.1:8000/ws --channels volume,audio
//
// Envelopes can be sent once connected:
//
//	--send 'volume={"type":"get_volume"}' --send 'audio={"type":"get_status"}'
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/rickgao/audiopanel/internal/logging"
	"github.com/rickgao/audiopanel/internal/transport"
)

func main() {
	url := flag.StringP("url", "u", "ws://127.0.0.1:8000/ws", "hub websocket URL")
	driver := flag.String("driver", transport.DriverGorilla, "websocket driver (gorilla or coder)")
	channels := flag.StringSliceP("channels", "C", []string{"volume", "audio", "spotify"}, "channels to subscribe to")
	sends := flag.StringArrayP("send", "s", nil, "channel=json envelope to publish (repeatable)")
	verbose := flag.BoolP("verbose", "V", false, "indent payloads and log at debug level")
	statsEvery := flag.Duration("stats", 10*time.Second, "stats interval (0 disables)")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := logging.New(os.Stderr, "text", level)

	outgoing, err := parseSends(*sends)
	if err != nil {
		logger.Error("invalid --send", "error", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := transport.DefaultConfig()
	cfg.URL = *url
	dialer, err := transport.NewDialer(*driver, cfg)
	if err != nil {
		logger.Error("failed to create dialer", "error", err)
		os.Exit(1)
	}
	tr := transport.New(cfg, transport.WithDialer(dialer), transport.WithLogger(logger))
	defer tr.Close()

	for _, ch := range *channels {
		tr.Subscribe(ch, printer(os.Stdout, ch, *verbose))
	}

	// Publish queues until the connection opens.
	for _, env := range outgoing {
		if err := tr.Publish(env.channel, env.payload); err != nil {
			logger.Error("publish failed", "channel", env.channel, "error", err)
		}
	}

	if *statsEvery > 0 {
		go func() {
			ticker := time.NewTicker(*statsEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s := tr.Stats()
					logger.Info("stats",
						"state", s.State.String(),
						"conn_id", s.ConnID,
						"attempt", s.Attempt,
						"pending", s.Pending,
						"dropped", s.Dropped,
						"subscriptions", s.Subscriptions,
					)
				}
			}
		}()
	}

	logger.Info("streaming started - press Ctrl+C to stop", "url", *url, "channels", *channels)

	<-ctx.Done()

	logger.Info("shutting down...")
	tr.Close()
	logger.Info("shutdown complete")
}

type outbound struct {
	channel string
	payload json.RawMessage
}

// parseSends parses channel=json arguments.
func parseSends(args []string) ([]outbound, error) {
	out := make([]outbound, 0, len(args))
	for _, arg := range args {
		channel, body, ok := strings.Cut(arg, "=")
		if !ok || channel == "" {
			return nil, fmt.Errorf("%q: want channel=json", arg)
		}
		if !json.Valid([]byte(body)) {
			return nil, fmt.Errorf("%q: payload is not valid json", arg)
		}
		out = append(out, outbound{channel: channel, payload: json.RawMessage(body)})
	}
	return out, nil
}

// printer writes one line per payload delivered on channel.
func printer(w io.Writer, channel string, verbose bool) transport.Handler {
	tag := "[" + strings.ToUpper(channel) + "]"
	return func(payload json.RawMessage) error {
		if verbose {
			data, err := json.MarshalIndent(payload, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "%s %s\n", tag, data)
			return err
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &head); err != nil {
			return err
		}
		if head.Type == "" {
			return errors.Join(errors.New("payload has no type"), writeLine(w, tag, "-", payload))
		}
		return writeLine(w, tag, head.Type, payload)
	}
}

func writeLine(w io.Writer, tag, typ string, payload json.RawMessage) error {
	_, err := fmt.Fprintf(w, "%s type=%s %s\n", tag, typ, payload)
	return err
}
