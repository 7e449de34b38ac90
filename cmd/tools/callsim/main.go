package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/echoes/backend/internal/logging"
	"github.com/zhouzirui/echoes/backend/internal/model/profile"
	sessionModel "github.com/zhouzirui/echoes/backend/internal/model/session"
	"github.com/zhouzirui/echoes/backend/internal/scheduler"
	"github.com/zhouzirui/echoes/backend/internal/script"
	"github.com/zhouzirui/echoes/backend/internal/service/session"
	"github.com/zhouzirui/echoes/backend/internal/service/voice"
)

type runOptions struct {
	profileID   string
	variant     string
	speed       float64
	say         []string
	endAfter    time.Duration
	scriptsFile string
	seed        int64
	logLevel    string
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "callsim",
		Short: "Run a simulated ancestor call or chat in the terminal",
	}
	rootCmd.AddCommand(newRunCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start one session, print its events and the final transcript",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Setup(opts.logLevel, true)
			return runSession(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.profileID, "profile", "robert", "profile to talk to")
	cmd.Flags().StringVar(&opts.variant, "variant", "call", "call or chat")
	cmd.Flags().Float64Var(&opts.speed, "speed", 1, "divide every session delay by this factor")
	cmd.Flags().StringArrayVar(&opts.say, "say", nil, "message to send once the session is active (repeatable)")
	cmd.Flags().DurationVar(&opts.endAfter, "end-after", 30*time.Second, "session time after which the session is ended")
	cmd.Flags().StringVar(&opts.scriptsFile, "scripts", "", "YAML reply catalog overriding the built-in one")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "seed for chat replies (0 uses the clock)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level")
	return cmd
}

func runSession(ctx context.Context, out io.Writer, opts runOptions) error {
	if opts.speed <= 0 {
		return errors.Errorf("speed must be positive, got %v", opts.speed)
	}
	scripts := script.Default()
	if opts.scriptsFile != "" {
		loaded, err := script.Load(opts.scriptsFile)
		if err != nil {
			return err
		}
		scripts = loaded
	}
	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	scale := func(d time.Duration) time.Duration {
		return time.Duration(float64(d) / opts.speed)
	}
	def := session.DefaultTiming()
	sink := newPrinter(out)

	mgr := session.NewManager(session.ManagerOptions{
		Profiles: profile.NewMemoryStore(profile.Seed()),
		Scripts:  scripts,
		Timing: session.Timing{
			ConnectDelay:   scale(def.ConnectDelay),
			TickInterval:   scale(def.TickInterval),
			ScriptInterval: scale(def.ScriptInterval),
			ReplyDelay:     scale(def.ReplyDelay),
		},
		Scheduler:   scheduler.Real(),
		Synthesizer: voice.NewMockSynthesizer(scale(3 * time.Second)),
		Events:      sink,
		Random:      session.NewLockedRand(seed),
	})
	defer mgr.Stop(context.Background())

	ctrl, err := mgr.CreateSession(ctx, session.CreateRequest{
		ProfileID: opts.profileID,
		Variant:   sessionModel.Variant(opts.variant),
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, scale(opts.endAfter))
	defer cancel()

	select {
	case <-sink.active:
		for _, text := range opts.say {
			if _, err := ctrl.SendUserMessage(text); err != nil {
				fmt.Fprintf(out, "! could not send %q: %v\n", text, err)
			}
		}
	case <-runCtx.Done():
	}

	select {
	case <-runCtx.Done():
	case <-ctrl.Done():
	}

	snap, _ := ctrl.EndSession()
	printTranscript(out, snap)
	return nil
}

// printer is an EventSink writing every event as one line.
type printer struct {
	out    io.Writer
	active chan struct{}
	seen   bool
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, active: make(chan struct{})}
}

func (p *printer) Attach(string) (sessionModel.Observer, func()) {
	return sessionModel.ObserverFunc(p.print), func() {}
}

func (p *printer) print(e sessionModel.Event) {
	switch e.Type {
	case sessionModel.EventState:
		fmt.Fprintf(p.out, "[%s] state: %s\n", sessionModel.FormatElapsed(e.ElapsedSeconds), e.State)
		if e.State == sessionModel.Active && !p.seen {
			p.seen = true
			close(p.active)
		}
	case sessionModel.EventMessage:
		fmt.Fprintf(p.out, "[%s] %s: %s\n", sessionModel.FormatElapsed(e.ElapsedSeconds), e.Message.Sender, e.Message.Text)
	case sessionModel.EventNotice:
		fmt.Fprintf(p.out, "[%s] notice: %s\n", sessionModel.FormatElapsed(e.ElapsedSeconds), e.Notice)
	case sessionModel.EventTick:
	default:
		fmt.Fprintf(p.out, "[%s] %s\n", sessionModel.FormatElapsed(e.ElapsedSeconds), e.Type)
	}
}

func printTranscript(out io.Writer, snap sessionModel.Snapshot) {
	fmt.Fprintf(out, "\n%s with %s, %s\n", snap.Variant, snap.Party.Name, snap.Elapsed())
	for _, m := range snap.Transcript {
		prefix := ""
		if m.IsVoice {
			prefix = "(voice) "
		}
		fmt.Fprintf(out, "  %s  %-6s %s%s\n", m.Timestamp.Format("15:04:05"), m.Sender, prefix, m.Text)
	}
}
