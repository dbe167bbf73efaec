package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"course-chat/internal/apiclient"
	"course-chat/internal/config"
	"course-chat/internal/conversation"
	"course-chat/internal/domain"
)

var (
	userColor  = color.New(color.FgGreen, color.Bold)
	botColor   = color.New(color.FgCyan)
	errorColor = color.New(color.FgRed)
	infoColor  = color.New(color.Faint)
)

type options struct {
	apiURL         string
	token          string
	userID         string
	courseID       string
	renderInterval time.Duration
	verbose        bool
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "cli_chat",
		Short: "Chat with the course assistant from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClientConfig()
			if err != nil {
				return err
			}
			applyDefaults(opts, cfg)
			if opts.courseID == "" {
				return fmt.Errorf("course id is required (--course or CHAT_COURSE_ID)")
			}
			return run(cmd.Context(), opts, cfg.Timeout, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.apiURL, "api", "", "backend base URL (CHAT_API_URL)")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token (CHAT_TOKEN)")
	cmd.Flags().StringVar(&opts.userID, "user", "", "user id (CHAT_USER_ID)")
	cmd.Flags().StringVar(&opts.courseID, "course", "", "course id (CHAT_COURSE_ID)")
	cmd.Flags().DurationVar(&opts.renderInterval, "render-interval", 50*time.Millisecond, "minimum time between streamed redraws")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log client diagnostics")
	return cmd
}

func applyDefaults(opts *options, cfg *config.ClientConfig) {
	if opts.apiURL == "" {
		opts.apiURL = cfg.APIURL
	}
	if opts.token == "" {
		opts.token = cfg.Token
	}
	if opts.userID == "" {
		opts.userID = cfg.UserID
	}
	if opts.courseID == "" {
		opts.courseID = cfg.CourseID
	}
}

func run(parent context.Context, opts *options, timeout time.Duration, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	logger := zap.NewNop()
	if opts.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			log.Printf("init logger: %v", err)
		} else {
			logger = l
		}
	}
	defer logger.Sync()

	client := apiclient.New(opts.apiURL, opts.token, opts.userID,
		apiclient.WithTimeout(timeout),
		apiclient.WithLogger(logger),
	)
	if _, err := client.EnsureUser(ctx); err != nil {
		logger.Warn("ensure user failed", zap.Error(err))
	}

	r := newRenderer(out)
	ctl := conversation.NewController(opts.courseID, client, client, client,
		conversation.WithNotifier(r.onChange),
		conversation.WithRenderInterval(opts.renderInterval),
		conversation.WithLogger(logger),
	)
	r.attach(ctl)

	sessions, err := ctl.LoadSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) > 0 {
		if err := ctl.Open(ctx, sessions[0].ID); err != nil {
			return err
		}
		r.printTranscript(sessions[0].ID)
	}

	repl := &repl{ctx: ctx, ctl: ctl, r: r, out: out}
	infoColor.Fprintln(out, "Type a question, or /help for commands.")
	scanner := bufio.NewScanner(in)
	for {
		userColor.Fprint(out, "You > ")
		if !scanner.Scan() {
			break
		}
		if quit := repl.handle(scanner.Text()); quit {
			break
		}
	}
	repl.wait()
	return scanner.Err()
}

type repl struct {
	ctx      context.Context
	ctl      *conversation.Controller
	r        *renderer
	out      io.Writer
	inflight sync.WaitGroup
}

func (p *repl) wait() {
	p.inflight.Wait()
}

func (p *repl) handle(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		p.send(line)
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		infoColor.Fprintln(p.out, "/sessions  /new [title]  /open N  /rename N title  /delete N  /history  /quit")
	case "/sessions":
		p.listSessions()
	case "/new":
		s, err := p.ctl.NewChat(p.ctx, strings.Join(fields[1:], " "))
		if err != nil {
			p.fail(err)
			return false
		}
		infoColor.Fprintf(p.out, "Started %q\n", s.DisplayTitle())
	case "/open":
		s, ok := p.pick(fields)
		if !ok {
			return false
		}
		if err := p.ctl.Open(p.ctx, s.ID); err != nil {
			p.fail(err)
			return false
		}
		p.r.printTranscript(s.ID)
	case "/rename":
		s, ok := p.pick(fields)
		if !ok {
			return false
		}
		if len(fields) < 3 {
			p.fail(fmt.Errorf("usage: /rename N title"))
			return false
		}
		if _, err := p.ctl.Rename(p.ctx, s.ID, strings.Join(fields[2:], " ")); err != nil {
			p.fail(err)
		}
	case "/delete":
		s, ok := p.pick(fields)
		if !ok {
			return false
		}
		if err := p.ctl.Delete(p.ctx, s.ID); err != nil {
			p.fail(err)
			return false
		}
		infoColor.Fprintf(p.out, "Deleted %q\n", s.DisplayTitle())
	case "/history":
		p.r.printTranscript(p.ctl.Active())
	default:
		p.fail(fmt.Errorf("unknown command %s", fields[0]))
	}
	return false
}

// send dispara la pregunta en segundo plano para que el usuario pueda
// cambiar de sesión mientras llega la respuesta.
func (p *repl) send(text string) {
	sessionID, err := p.ctl.EnsureActive(p.ctx)
	if err != nil {
		p.fail(err)
		return
	}
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		err := p.ctl.SendMessageTo(p.ctx, sessionID, text)
		p.r.finish(sessionID, err)
	}()
}

func (p *repl) listSessions() {
	sessions, err := p.ctl.LoadSessions(p.ctx)
	if err != nil {
		p.fail(err)
		return
	}
	if len(sessions) == 0 {
		infoColor.Fprintln(p.out, "No sessions yet. Ask something to start one.")
		return
	}
	active := p.ctl.Active()
	for i, s := range sessions {
		marker := " "
		if s.ID == active {
			marker = "*"
		}
		state := ""
		if st := p.ctl.State(s.ID); st != conversation.StateIdle {
			state = " (" + st.String() + ")"
		}
		fmt.Fprintf(p.out, "%s[%d] %s%s\n", marker, i+1, s.DisplayTitle(), state)
	}
}

func (p *repl) pick(fields []string) (domain.Session, bool) {
	if len(fields) < 2 {
		p.fail(fmt.Errorf("usage: %s N", fields[0]))
		return domain.Session{}, false
	}
	idx, err := strconv.Atoi(fields[1])
	sessions := p.ctl.Sessions()
	if err != nil || idx < 1 || idx > len(sessions) {
		p.fail(fmt.Errorf("no session %s, run /sessions", fields[1]))
		return domain.Session{}, false
	}
	return sessions[idx-1], true
}

func (p *repl) fail(err error) {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	errorColor.Fprintf(p.out, "error: %v\n", err)
}
