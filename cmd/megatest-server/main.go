// Runs the in-memory fake storage service on a local port, for manual
// testing and for the E2E suite when no live account is configured.
//
// Usage: go run ./cmd/megatest-server --user alice@example.com:secret
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tonimelisma/mega-go/internal/megatest"
)

type userFlags []string

func (u *userFlags) String() string { return strings.Join(*u, ",") }

func (u *userFlags) Set(v string) error {
	if !strings.Contains(v, ":") {
		return fmt.Errorf("want email:password, got %q", v)
	}

	*u = append(*u, v)

	return nil
}

func main() {
	var users userFlags

	flag.Var(&users, "user", "account to create as email:password (repeatable)")
	quota := flag.Int64("quota", 0, "storage quota in bytes for created accounts (0 = server default)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	srv := megatest.New()
	defer srv.Close()

	for _, u := range users {
		email, password, _ := strings.Cut(u, ":")

		opts := []megatest.UserOption{megatest.WithCSID()}
		if *quota > 0 {
			opts = append(opts, megatest.WithQuota(*quota))
		}

		srv.AddUser(email, password, opts...)
		logger.Info("created account", slog.String("email", email))
	}

	// The URL goes to stdout alone so scripts can capture it.
	fmt.Println(srv.URL())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info("shutting down", slog.Int64("commands", srv.CommandCount()))
}
