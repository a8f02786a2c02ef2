// ABOUTME: Operator subcommands that talk to the store or a running gateway
// ABOUTME: Implements token minting, conversation dumps, and the health probe

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/2389/relay-gateway/internal/auth"
	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/store"
)

// userFlags holds the options shared by token and history.
type userFlags struct {
	userID string
	ttl    time.Duration
}

// parseUserFlags accepts "--user ID", "--user=ID", "-u ID", and for token
// "--ttl 720h".
func parseUserFlags(args []string) (userFlags, error) {
	var f userFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--user", "-u", "--ttl":
		default:
			if strings.HasPrefix(arg, "-") {
				return f, fmt.Errorf("unknown flag: %s", arg)
			}
			return f, fmt.Errorf("unexpected argument: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return f, fmt.Errorf("%s requires a value", name)
			}
			value = args[i+1]
			i++
		}

		if name == "--ttl" {
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				return f, fmt.Errorf("invalid --ttl %q", value)
			}
			f.ttl = d
			continue
		}
		f.userID = strings.TrimSpace(value)
	}

	if f.userID == "" {
		return f, errors.New("--user flag is required")
	}
	return f, nil
}

// openStore loads the config and opens its store directly, without a server.
func openStore(ctx context.Context) (*config.Config, store.Store, error) {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	return cfg, s, nil
}

// runToken mints a bearer token for an existing user. This is how operators
// get a token for a user without knowing their password.
func runToken(ctx context.Context, args []string, out io.Writer) error {
	flags, err := parseUserFlags(args)
	if err != nil {
		return err
	}

	cfg, s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return issueToken(ctx, cfg, s, flags, out)
}

func issueToken(ctx context.Context, cfg *config.Config, users store.UserStore, flags userFlags, out io.Writer) error {
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("auth.jwt_secret: %w", err)
	}

	ttl := cfg.Auth.TokenTTL
	if flags.ttl > 0 {
		ttl = flags.ttl
	}

	accounts := auth.NewService(users, verifier, ttl, slog.New(slog.DiscardHandler))
	session, err := accounts.IssueToken(ctx, flags.userID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no user with id %s", flags.userID)
	}
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	fmt.Fprintln(out, session.Token)
	return nil
}

// runHistory prints a user's conversation as a table.
func runHistory(ctx context.Context, args []string, out io.Writer) error {
	flags, err := parseUserFlags(args)
	if err != nil {
		return err
	}

	_, s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	msgs, err := s.ListMessages(ctx, flags.userID)
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}
	renderHistory(out, msgs)
	return nil
}

func renderHistory(out io.Writer, msgs []*store.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages.")
		return
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Time", "Author", "Content"})
	table.SetAutoWrapText(true)
	table.SetColWidth(80)
	for _, m := range msgs {
		table.Append([]string{
			m.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			string(m.Author),
			m.Content,
		})
	}
	table.Render()
}

// runHealth probes /health/ready on the configured HTTP address.
func runHealth(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is not set; nothing to probe")
	}
	return probe(ctx, "http://"+cfg.Server.HTTPAddr+"/health/ready", out)
}

func probe(ctx context.Context, url string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Fprintf(out, "healthy: %s\n", body)
	return nil
}
