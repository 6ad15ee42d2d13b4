package render

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"sjsage522/marketcrawler/internal/pacing"
	"sjsage522/marketcrawler/logger"
	"sjsage522/marketcrawler/pkg/errors"
)

// HasChallengeMarker reports whether html contains any of markers
func HasChallengeMarker(html string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(html, m) {
			return true
		}
	}
	return false
}

// Confirmer blocks until an operator says the interstitial was solved
type Confirmer func(ctx context.Context) error

// StdinConfirmer prompts on w and waits for a line on r
func StdinConfirmer(r io.Reader, w io.Writer) Confirmer {
	reader := bufio.NewReader(r)
	return func(ctx context.Context) error {
		fmt.Fprintln(w, "Solve the verification in the browser window, then press Enter to continue...")

		line := make(chan error, 1)
		go func() {
			_, err := reader.ReadString('\n')
			line <- err
		}()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-line:
			if err == io.EOF {
				return errors.NewChallenge("stdin", "no operator input", err)
			}
			return err
		}
	}
}

// Clearance describes how long to wait for an interstitial to disappear
type Clearance struct {
	// Waits are escalating windows polled one after another
	Waits []time.Duration
	// Poll is the check interval inside a window
	Poll time.Duration
	// Confirm is asked after every window elapsed; nil gives up instead
	Confirm Confirmer
}

// AwaitClearance blocks until present reports false. It polls through each
// wait window in turn, then falls back to operator confirmation, repeating
// until the marker is gone. Without a confirmer it fails once the windows
// are exhausted.
func AwaitClearance(ctx context.Context, present func(context.Context) bool, c Clearance, log *logger.Logger) error {
	if !present(ctx) {
		return nil
	}

	poll := c.Poll
	if poll <= 0 {
		poll = time.Second
	}

	for i, window := range c.Waits {
		log.Warn().Int("stage", i+1).Dur("window", window).Msg("Waiting for challenge to clear")
		deadline := time.Now().Add(window)
		for time.Now().Before(deadline) {
			if err := pacing.Sleep(ctx, poll); err != nil {
				return err
			}
			if !present(ctx) {
				return nil
			}
		}
	}

	if c.Confirm == nil {
		return errors.NewChallenge("browser", "challenge still present after waiting", nil)
	}

	for {
		if err := c.Confirm(ctx); err != nil {
			return err
		}
		if !present(ctx) {
			return nil
		}
		log.Warn().Msg("Challenge still present after confirmation")
	}
}
