package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tonimelisma/mega-go/internal/ledger"
	"github.com/tonimelisma/mega-go/pkg/mega"
)

// errNotLoggedIn is returned when no usable session file exists.
var errNotLoggedIn = errors.New("not logged in: run 'mega-go login' first")

// MegaConfig maps the resolved configuration onto the engine's Config.
func (cc *CLIContext) MegaConfig(ctx context.Context) mega.Config {
	r := cc.Cfg

	ua := r.UserAgent
	if ua == "" {
		ua = "mega-go/" + version
	}

	return mega.Config{
		BaseURL:        r.BaseURL,
		Proxy:          r.Proxy,
		UserAgent:      ua,
		RequestTimeout: r.RequestTimeout,
		ChunkTimeout:   r.ChunkTimeout,
		Workers:        r.Workers,
		ChunkSize:      r.ChunkSize,
		Resume:         r.Resume,
		Previews:       r.Previews,
		BandwidthLimit: r.BandwidthLimit,
		ResumeDir:      r.ResumeDir,
		Logger:         cc.Logger,
		Metrics:        cc.Metrics,
		Observer:       cc.observer(ctx),
	}
}

// Session restores the saved session.
func (cc *CLIContext) Session(ctx context.Context) (*mega.Session, error) {
	s, err := mega.LoadFile(ctx, cc.Cfg.SessionFile, cc.MegaConfig(ctx))
	if err != nil {
		var ae *mega.AuthError
		if errors.As(err, &ae) && ae.Reason == mega.AuthExpired {
			return nil, fmt.Errorf("%w: session expired, run 'mega-go login' again", err)
		}

		return nil, err
	}

	if s == nil {
		return nil, errNotLoggedIn
	}

	return s, nil
}

// Ledger opens the transfer ledger on first use.
func (cc *CLIContext) Ledger(ctx context.Context) (*ledger.Ledger, error) {
	if cc.ledger != nil {
		return cc.ledger, nil
	}

	l, err := ledger.Open(ctx, cc.Cfg.LedgerFile, cc.Logger)
	if err != nil {
		return nil, err
	}

	cc.ledger = l

	return l, nil
}

// observer fans job events out to the ledger and the progress line.
func (cc *CLIContext) observer(ctx context.Context) mega.JobObserver {
	var obs multiObserver

	if cc.Cfg.Ledger {
		l, err := cc.Ledger(ctx)
		if err != nil {
			cc.Logger.Warn("transfer history disabled", slog.String("error", err.Error()))
		} else {
			obs = append(obs, l)
		}
	}

	if cc.progress != nil {
		obs = append(obs, cc.progress)
	}

	if len(obs) == 0 {
		return nil
	}

	return obs
}

type multiObserver []mega.JobObserver

func (m multiObserver) JobChanged(ev mega.JobEvent) {
	for _, o := range m {
		o.JobChanged(ev)
	}
}

// readSecret returns envValue if set, otherwise prompts on stderr. Input is
// not echoed when stdin is a terminal.
func readSecret(cmd *cobra.Command, prompt, envValue string) (string, error) {
	if envValue != "" {
		return envValue, nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), prompt)

	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())

		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}

		return string(b), nil
	}

	return readLine(cmd.InOrStdin())
}

// readValue returns value if set, otherwise prompts for a line of input.
func readValue(cmd *cobra.Command, prompt, value string) (string, error) {
	if value != "" {
		return value, nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), prompt)

	return readLine(cmd.InOrStdin())
}

// readLine reads up to a newline one byte at a time, so consecutive
// prompts on piped input each get their own line.
func readLine(r io.Reader) (string, error) {
	var (
		sb  strings.Builder
		buf [1]byte
	)

	for {
		n, err := r.Read(buf[:])
		if n == 1 {
			if buf[0] == '\n' {
				break
			}

			sb.WriteByte(buf[0])
		}

		if errors.Is(err, io.EOF) {
			if sb.Len() == 0 {
				return "", fmt.Errorf("reading input: %w", io.ErrUnexpectedEOF)
			}

			break
		}

		if err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
	}

	return strings.TrimRight(sb.String(), "\r"), nil
}
