// Command portalctl logs in against the portal gateway and keeps the session
// on this machine so later commands reuse and renew it.
//
// Usage:
//
//	portalctl [flags] login <email>
//	portalctl [flags] whoami | status | refresh | logout
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/exagonbr/Portal-sub023/internal/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type options struct {
	gatewayURL  string
	sessionFile string
	redisURL    string
	clientID    string
	password    string
	verbose     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "portalctl: %v\n", err)
		if errors.Is(err, flag.ErrHelp) || errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("usage: portalctl [flags] login <email> | whoami | status | refresh | logout")

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	opts, rest, err := parseFlags(args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return errUsage
	}

	logger := zap.NewNop()
	if opts.verbose {
		logger, _ = zap.NewDevelopment()
		defer logger.Sync()
	}

	client, cleanup, err := newClient(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	switch cmd := rest[0]; cmd {
	case "login":
		if len(rest) != 2 {
			return errUsage
		}
		password := opts.password
		if password == "" {
			if password, err = readPassword(stdin, stdout); err != nil {
				return err
			}
		}
		rec, err := client.Login(ctx, rest[1], password)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "logged in as %s (%s)\n", rec.User.Email, rec.User.Role)
		fmt.Fprintf(stdout, "access token expires %s\n", rec.ExpiresAt.Format(time.RFC3339))
	case "whoami":
		me, err := client.Me(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s %s %s\n", me.ID, me.Email, me.Role)
		if len(me.Permissions) > 0 {
			fmt.Fprintf(stdout, "permissions: %s\n", strings.Join(me.Permissions, ", "))
		}
		if me.InstitutionName != "" {
			fmt.Fprintf(stdout, "institution: %s\n", me.InstitutionName)
		}
	case "status":
		rec, err := client.EnsureFresh(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "session %s\n", rec.SessionID)
		fmt.Fprintf(stdout, "access expires  %s\n", rec.ExpiresAt.Format(time.RFC3339))
		fmt.Fprintf(stdout, "refresh expires %s\n", rec.RefreshExpiresAt.Format(time.RFC3339))
	case "refresh":
		rec, err := client.Refresh(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "access token renewed until %s\n", rec.ExpiresAt.Format(time.RFC3339))
	case "logout":
		if err := client.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "logged out")
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
	return nil
}

func parseFlags(args []string) (options, []string, error) {
	var opts options

	fs := flag.NewFlagSet("portalctl", flag.ContinueOnError)
	fs.StringVar(&opts.gatewayURL, "gateway", envOr("PORTAL_GATEWAY_URL", "http://localhost:8080"), "gateway base URL")
	fs.StringVar(&opts.sessionFile, "session-file", envOr("PORTAL_SESSION_FILE", defaultSessionFile()), "path of the durable session copy")
	fs.StringVar(&opts.redisURL, "redis-url", os.Getenv("PORTAL_SESSION_REDIS_URL"), "optional Redis URL for a shared session copy")
	fs.StringVar(&opts.clientID, "client-id", envOr("PORTAL_CLIENT_ID", defaultClientID()), "key of the Redis session copy")
	fs.StringVar(&opts.password, "password", os.Getenv("PORTAL_PASSWORD"), "login password; prompted when empty")
	fs.BoolVar(&opts.verbose, "v", false, "verbose logging")

	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	return opts, fs.Args(), nil
}

// newClient builds the session store in priority order: the durable file,
// the optional Redis copy, the process memory, and the cookie jar shared with
// the HTTP client.
func newClient(ctx context.Context, opts options, logger *zap.Logger) (*session.Client, func(), error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, nil, err
	}
	cookies, err := session.NewCookieBackend(jar, opts.gatewayURL)
	if err != nil {
		return nil, nil, err
	}

	backends := []session.Backend{session.NewFileBackend(opts.sessionFile)}
	cleanup := func() {}

	if opts.redisURL != "" {
		ro, err := redis.ParseURL(opts.redisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		rc := redis.NewClient(ro)
		if err := rc.Ping(ctx).Err(); err != nil {
			// The other copies still work; carry on without this one
			logger.Warn("session Redis unavailable", zap.Error(err))
			rc.Close()
		} else {
			backends = append(backends, session.NewRedisBackend(rc, opts.clientID))
			cleanup = func() { rc.Close() }
		}
	}
	backends = append(backends, session.NewMemoryBackend(), cookies)

	store := session.NewStore(logger, backends...)
	client, err := session.NewClient(opts.gatewayURL, store,
		session.WithHTTPClient(&http.Client{Jar: jar, Timeout: 15 * time.Second}),
		session.WithLogger(logger),
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return client, cleanup, nil
}

func readPassword(stdin io.Reader, stdout io.Writer) (string, error) {
	fmt.Fprint(stdout, "password: ")
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "portal", "session.json")
}

func defaultClientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "portalctl"
	}
	return host
}
