package render

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/marketcrawler/logger"
	perrors "sjsage522/marketcrawler/pkg/errors"
)

func TestHasChallengeMarker(t *testing.T) {
	markers := []string{"captcha-delivery.com", "g-recaptcha"}

	assert.True(t, HasChallengeMarker(`<iframe src="https://geo.captcha-delivery.com/x"></iframe>`, markers))
	assert.False(t, HasChallengeMarker(`<div id="searchResults"></div>`, markers))
	assert.False(t, HasChallengeMarker("anything", []string{""}))
}

// checkSequence reports the challenge as present for the first n checks
func checkSequence(n int) (func(context.Context) bool, *int) {
	calls := 0
	return func(context.Context) bool {
		calls++
		return calls <= n
	}, &calls
}

func TestAwaitClearanceAlreadyClear(t *testing.T) {
	present, calls := checkSequence(0)
	err := AwaitClearance(context.Background(), present, Clearance{}, logger.Nop())
	assert.NoError(t, err)
	assert.Equal(t, 1, *calls)
}

func TestAwaitClearanceDuringWait(t *testing.T) {
	present, _ := checkSequence(3)
	c := Clearance{Waits: []time.Duration{time.Second}, Poll: time.Millisecond}

	assert.NoError(t, AwaitClearance(context.Background(), present, c, logger.Nop()))
}

func TestAwaitClearanceEscalatesThenConfirms(t *testing.T) {
	present, _ := checkSequence(1000)
	confirms := 0
	c := Clearance{
		Waits: []time.Duration{5 * time.Millisecond, 10 * time.Millisecond},
		Poll:  time.Millisecond,
		Confirm: func(context.Context) error {
			confirms++
			return nil
		},
	}

	// clears on the third confirmation
	cleared := false
	stillPresent := func(ctx context.Context) bool {
		if confirms >= 3 {
			cleared = true
			return false
		}
		return present(ctx)
	}

	require.NoError(t, AwaitClearance(context.Background(), stillPresent, c, logger.Nop()))
	assert.True(t, cleared)
	assert.Equal(t, 3, confirms)
}

func TestAwaitClearanceWithoutConfirmerFails(t *testing.T) {
	present, _ := checkSequence(1000)
	c := Clearance{Waits: []time.Duration{5 * time.Millisecond}, Poll: time.Millisecond}

	err := AwaitClearance(context.Background(), present, c, logger.Nop())
	assert.Equal(t, perrors.ErrorTypeChallenge, perrors.TypeOf(err))
}

func TestAwaitClearanceCanceled(t *testing.T) {
	present, _ := checkSequence(1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := AwaitClearance(ctx, present, Clearance{Waits: []time.Duration{time.Hour}}, logger.Nop())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStdinConfirmer(t *testing.T) {
	var out strings.Builder
	confirm := StdinConfirmer(strings.NewReader("\n"), &out)

	assert.NoError(t, confirm(context.Background()))
	assert.Contains(t, out.String(), "press Enter")

	// input exhausted
	err := confirm(context.Background())
	assert.Error(t, err)
	assert.Equal(t, perrors.ErrorTypeChallenge, perrors.TypeOf(err))
}

// recordingClient is a ChromeClient whose lifecycle only records calls
func recordingClient(headless bool, lastURL string, steps *[]string) *ChromeClient {
	c := &ChromeClient{
		log:      logger.Nop(),
		headless: headless,
		lastURL:  lastURL,
		opts:     Options{Clearance: Clearance{Waits: []time.Duration{50 * time.Millisecond}, Poll: time.Millisecond}},
	}
	challenged := true
	c.launch = launcher{
		start: func(h bool) error {
			*steps = append(*steps, fmt.Sprintf("start headless=%t", h))
			c.headless = h
			return nil
		},
		stop: func() { *steps = append(*steps, "stop") },
		navigate: func(_ context.Context, url string) error {
			*steps = append(*steps, "navigate "+url)
			return nil
		},
		detect: func(context.Context) bool {
			*steps = append(*steps, "detect")
			present := challenged
			challenged = false
			return present
		},
	}
	return c
}

func TestRecoverRestartsHeadedAndReloads(t *testing.T) {
	var steps []string
	c := recordingClient(true, "https://market.yad2.co.il/collections/x?page=2", &steps)

	require.NoError(t, c.Recover(context.Background()))

	assert.Equal(t, []string{
		"stop",
		"start headless=false",
		"navigate https://market.yad2.co.il/collections/x?page=2",
		"detect",
		"detect",
	}, steps)
	assert.False(t, c.Headless())
}

func TestRecoverHeadedOnlyWaits(t *testing.T) {
	var steps []string
	c := recordingClient(false, "https://market.yad2.co.il/collections/x", &steps)

	require.NoError(t, c.Recover(context.Background()))
	assert.Equal(t, []string{"detect", "detect"}, steps)
}

func TestRecoverWithoutLastURLSkipsReload(t *testing.T) {
	var steps []string
	c := recordingClient(true, "", &steps)

	require.NoError(t, c.Recover(context.Background()))
	assert.Equal(t, []string{"stop", "start headless=false", "detect", "detect"}, steps)
}

func TestRecoverFailures(t *testing.T) {
	var steps []string
	c := recordingClient(true, "https://market.yad2.co.il/collections/x", &steps)
	c.launch.start = func(bool) error {
		steps = append(steps, "start")
		return perrors.NewRender("chrome", "start browser", nil)
	}

	err := c.Recover(context.Background())
	assert.Equal(t, perrors.ErrorTypeRender, perrors.TypeOf(err))
	assert.Equal(t, []string{"stop", "start"}, steps)

	steps = nil
	c = recordingClient(true, "https://market.yad2.co.il/collections/x", &steps)
	c.launch.navigate = func(context.Context, string) error { return fmt.Errorf("net::ERR_CONNECTION_RESET") }

	err = c.Recover(context.Background())
	assert.Equal(t, perrors.ErrorTypeNetwork, perrors.TypeOf(err))
	assert.NotContains(t, steps, "detect")
}

func TestChromeClient(t *testing.T) {
	if FindChromeBinary() == "" {
		t.Skip("Chrome is not available, skipping test")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="searchResults">
			<div class="card--product">1</div><div class="card--product">2</div>
		</div></body></html>`)
	}))
	defer server.Close()

	c, err := NewChromeClient(Options{Headless: true, Markers: []string{"g-recaptcha"}}, logger.Nop())
	if err != nil {
		t.Skipf("Chrome could not start: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	html, err := c.Render(ctx, server.URL+"/?page=1")
	require.NoError(t, err)
	assert.Contains(t, html, "searchResults")

	assert.True(t, c.WaitFor(ctx, "div.card--product", 5*time.Second))
	assert.False(t, c.WaitFor(ctx, "div.missing", 200*time.Millisecond))

	n, err := c.CountElements(ctx, "div.card--product")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.NoError(t, c.ScrollToBottom(ctx))
	assert.False(t, c.DetectChallenge(ctx))
	assert.True(t, c.Headless())
	assert.Contains(t, c.CurrentURL(), "page=1")
}
