package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/artwise/artwise/internal/app"
	"github.com/artwise/artwise/internal/policy"
	"github.com/artwise/artwise/internal/realtime/eventbus"
	"github.com/artwise/artwise/internal/realtime/protocol"
	"github.com/artwise/artwise/internal/realtime/session"
)

var (
	talkUser        string
	talkMode        string
	talkContextFile string
	talkRecord      string
)

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Start a realtime conversation from the terminal",
	Long: `Connects to the realtime endpoint through the artwise backend.

In ptt mode press Enter to start speaking and Enter again to send the turn.
In live mode the microphone streams continuously and the server detects turns.
Any other line is sent as a text message. Commands: /live /ptt /mute /unmute
/cancel /stats /reconnect /quit.`,
	RunE: runTalk,
}

func init() {
	talkCmd.Flags().StringVar(&talkUser, "user", "local", "user id charged for the conversation")
	talkCmd.Flags().StringVar(&talkMode, "mode", app.ModePTT, "capture mode: ptt, live or text")
	talkCmd.Flags().StringVar(&talkContextFile, "context-file", "", "file with the artwork narrative to seed the conversation")
	talkCmd.Flags().StringVar(&talkRecord, "record", "", "write everything the microphone captured to this WAV file on exit")
}

func runTalk(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := app.BuildClient(cfg, logger, talkUser, talkMode)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("client close failed")
		}
	}()

	if talkRecord != "" {
		if err := client.Record(talkRecord); err != nil {
			return err
		}
	}

	sc := client.Config
	if talkContextFile != "" {
		raw, err := os.ReadFile(talkContextFile)
		if err != nil {
			return fmt.Errorf("read context file: %w", err)
		}
		sc.SeedContext = strings.TrimSpace(string(raw))
	}
	if redacted, changed := policy.RedactSessionConfig(sc); changed {
		logger.Info().Msg("personal data masked in session instructions or context")
		sc = redacted
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := &printer{w: os.Stdout}
	subscribe(client.Controller, out)

	out.line(titleStyle.Render("artwise") + dimStyle.Render(" connecting as "+talkUser+" ("+client.Mode+")"))
	if err := client.Controller.Connect(ctx, sc); err != nil {
		return err
	}

	t := &talker{client: client, cfg: sc, out: out, mode: client.Mode}
	if client.Mode == app.ModeLive {
		t.switchTo(ctx, app.ModeLive)
	}
	t.help()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := t.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

type talker struct {
	client    *app.Client
	cfg       protocol.SessionConfig
	out       *printer
	mode      string
	recording bool
}

func (t *talker) handle(ctx context.Context, line string) bool {
	c := t.client.Controller
	switch line {
	case "":
		t.togglePushToTalk(ctx)
	case "/quit", "/exit":
		return true
	case "/help":
		t.help()
	case "/stats":
		t.stats()
	case "/live":
		t.switchTo(ctx, app.ModeLive)
	case "/ptt":
		if t.mode == app.ModeLive {
			t.report(c.StopCapture())
		}
		t.mode = app.ModePTT
		t.recording = false
		t.out.line(dimStyle.Render("push-to-talk: press Enter to speak"))
	case "/mute":
		c.SetMuted(true)
		t.out.line(dimStyle.Render("microphone muted"))
	case "/unmute":
		c.SetMuted(false)
		t.out.line(dimStyle.Render("microphone live"))
	case "/cancel":
		t.report(c.CancelResponse())
	case "/reconnect":
		t.recording = false
		t.report(c.Connect(ctx, t.cfg))
		if t.mode == app.ModeLive {
			t.switchTo(ctx, app.ModeLive)
		}
	default:
		if strings.HasPrefix(line, "/") {
			t.out.line(errorStyle.Render("unknown command " + line))
			return false
		}
		t.report(c.SendTextMessage(line))
	}
	return false
}

func (t *talker) togglePushToTalk(ctx context.Context) {
	if t.mode != app.ModePTT {
		return
	}
	c := t.client.Controller
	if t.recording {
		t.recording = false
		t.report(c.StopCapture())
		t.out.line(dimStyle.Render("sent"))
		return
	}
	a, err := t.client.Adapter(app.ModePTT)
	if err != nil {
		t.report(err)
		return
	}
	if err := c.StartCapture(ctx, a); err != nil {
		t.report(err)
		return
	}
	t.recording = true
	t.out.line(userStyle.Render("recording, press Enter to send"))
}

func (t *talker) switchTo(ctx context.Context, mode string) {
	a, err := t.client.Adapter(mode)
	if err != nil {
		t.report(err)
		return
	}
	if err := t.client.Controller.SwitchCapture(ctx, a); err != nil {
		t.report(err)
		return
	}
	t.mode = mode
	t.recording = false
	t.out.line(dimStyle.Render("live microphone on, the server detects the end of each turn"))
}

func (t *talker) help() {
	t.out.line(dimStyle.Render("Enter: push-to-talk   /live /ptt /mute /unmute /cancel /stats /reconnect /quit   other text is sent as a message"))
}

func (t *talker) stats() {
	snap := t.client.Metrics.LatencySnapshot()
	if len(snap.Stages) == 0 {
		t.out.line(dimStyle.Render("no latency samples yet"))
		return
	}
	for _, st := range snap.Stages {
		t.out.line(dimStyle.Render(fmt.Sprintf("%-22s n=%-4d last=%.0fms p50=%.0fms p95=%.0fms", st.Stage, st.Samples, st.LastMS, st.P50MS, st.P95MS)))
	}
}

func (t *talker) report(err error) {
	if err != nil {
		t.out.line(errorStyle.Render(err.Error()))
	}
}

// printer serializes terminal output between the input loop and event handlers.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	midLine bool
}

func (p *printer) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.midLine {
		fmt.Fprintln(p.w)
		p.midLine = false
	}
	fmt.Fprintln(p.w, s)
}

func (p *printer) delta(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.w, assistantStyle.Render(s))
	p.midLine = true
}

func (p *printer) endTurn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.midLine {
		fmt.Fprintln(p.w)
		p.midLine = false
	}
}

func subscribe(c *session.Controller, out *printer) {
	c.On(protocol.EventResponseTextDelta, func(ev eventbus.Event) {
		if d, ok := ev.Payload.(*protocol.ResponseTextDelta); ok {
			out.delta(d.Delta)
		}
	})
	c.On(protocol.EventResponseAudioTranscriptDelta, func(ev eventbus.Event) {
		if d, ok := ev.Payload.(*protocol.ResponseAudioTranscriptDelta); ok {
			out.delta(d.Delta)
		}
	})
	c.On(protocol.EventResponseDone, func(eventbus.Event) { out.endTurn() })
	c.On(protocol.EventInputTranscriptionCompleted, func(ev eventbus.Event) {
		if tr, ok := ev.Payload.(*protocol.InputTranscriptionCompleted); ok && strings.TrimSpace(tr.Transcript) != "" {
			out.line(userStyle.Render("you: " + strings.TrimSpace(tr.Transcript)))
		}
	})
	c.On(protocol.EventError, func(ev eventbus.Event) {
		if e, ok := ev.Payload.(*protocol.ErrorEvent); ok {
			out.line(errorStyle.Render("realtime error: " + e.Error.Message))
		}
	})
	c.On(protocol.EventConnectionStatus, func(ev eventbus.Event) {
		st, ok := ev.Payload.(*protocol.ConnectionStatusChanged)
		if !ok {
			return
		}
		msg := "● " + st.Status
		if st.Reason != "" {
			msg += " (" + st.Reason + ")"
		}
		out.line(dimStyle.Render(msg))
		if st.Err != nil {
			out.line(errorStyle.Render(st.Err.Error() + ", type /reconnect to start a new session"))
		}
	})
}
