package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lodevel/procstudio/artifact"
	"github.com/lodevel/procstudio/config"
	"github.com/lodevel/procstudio/contract"
	"github.com/lodevel/procstudio/prompt"
	"github.com/lodevel/procstudio/session"
	"github.com/lodevel/procstudio/trace"
	"github.com/lodevel/procstudio/workflow"
)

// turnCmd runs a single co-authoring turn and exits.
func turnCmd(flags *rootFlags) *cobra.Command {
	var (
		task      string
		sessionID string
		strict    bool
		force     bool
		yes       bool
	)

	cmd := &cobra.Command{
		Use:   "turn [message]",
		Short: "Run a single co-authoring turn",
		Long: `Runs one turn against the workspace: builds the prompt from the current
artifacts, sends it, and walks you through the proposed diffs. The message
is taken from the argument, or from stdin when no argument is given; with
the message on stdin there is no way to confirm diffs interactively, so
proposals are rejected unless --yes is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel)
			cfg, err := loadConfig(flags, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, flags, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			stdin := bufio.NewReader(cmd.InOrStdin())
			input, err := resolveInput(args, stdin)
			if err != nil {
				return err
			}

			taskType := contract.ParseTaskType(task)
			if !a.contracts.Known(taskType) {
				return fmt.Errorf("unknown task %q (see %q)", task, appName+" tasks")
			}

			sess := a.sessions.Get(sessionID, taskType)
			decider := chooseDecider(yes, stdin, cmd.OutOrStdout())
			return a.runOneTurn(ctx, cmd.OutOrStdout(), sess, input, prompt.Flags{Strict: strict, Force: force}, decider)
		},
	}

	cmd.Flags().StringVarP(&task, "task", "t", string(contract.TaskAdHocChat), "Task type (see \"tasks\" for the list)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "default", "Session (conversation) identifier")
	cmd.Flags().BoolVar(&strict, "strict", false, "Let the model refuse ambiguous input and ask questions instead")
	cmd.Flags().BoolVar(&force, "force", false, "Require a proposal and resend full artifact context")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Accept all proposed diffs without asking")

	return cmd
}

// chatCmd runs an interactive session loop.
func chatCmd(flags *rootFlags) *cobra.Command {
	var (
		task      string
		sessionID string
		strict    bool
		force     bool
		yes       bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive co-authoring session",
		Long: `Starts a REPL against the workspace. Each line is one turn. Slash
commands control the session:

  /task <name>   switch task type (ends the current conversation)
  /status        show artifact versions and open questions
  /quit          exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel)
			cfg, err := loadConfig(flags, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, flags, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			taskType := contract.ParseTaskType(task)
			if !a.contracts.Known(taskType) {
				return fmt.Errorf("unknown task %q (see %q)", task, appName+" tasks")
			}

			return a.chatLoop(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), chatOptions{
				sessionID: sessionID,
				task:      taskType,
				flags:     prompt.Flags{Strict: strict, Force: force},
				yes:       yes,
			})
		},
	}

	cmd.Flags().StringVarP(&task, "task", "t", string(contract.TaskAdHocChat), "Initial task type")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "default", "Session (conversation) identifier")
	cmd.Flags().BoolVar(&strict, "strict", false, "Let the model refuse ambiguous input and ask questions instead")
	cmd.Flags().BoolVar(&force, "force", false, "Require a proposal and resend full artifact context")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Accept all proposed diffs without asking")

	return cmd
}

type chatOptions struct {
	sessionID string
	task      contract.TaskType
	flags     prompt.Flags
	yes       bool
}

func (a *app) chatLoop(ctx context.Context, in io.Reader, out io.Writer, opts chatOptions) error {
	// One buffered reader for the whole loop. The decider reads its
	// confirmations from the same reader, so piped input is consumed in
	// order instead of disappearing into a second buffer.
	reader := bufio.NewReader(in)

	sess := a.sessions.Get(opts.sessionID, opts.task)
	fmt.Fprintf(out, "%s chat: task %s, session %s (/quit to exit)\n", appName, sess.Task(), sess.ID())

	for {
		fmt.Fprintf(out, "\n> ")
		line, rerr := reader.ReadString('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return rerr
		}
		if ctx.Err() != nil {
			break
		}

		input := strings.TrimSpace(line)
		switch {
		case input == "":
			// Nothing to do.
		case strings.HasPrefix(input, "/"):
			done, newSess := a.handleSlash(out, input, sess, opts)
			if done {
				return nil
			}
			if newSess != nil {
				sess = newSess
			}
		default:
			decider := chooseDecider(opts.yes, reader, out)
			if err := a.runOneTurn(ctx, out, sess, input, opts.flags, decider); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				fmt.Fprintf(out, "turn failed: %v\n", err)
			}
		}

		if errors.Is(rerr, io.EOF) {
			break
		}
	}
	return nil
}

// handleSlash executes a REPL slash command. It returns done=true to exit
// the loop, and a non-nil session when the command replaced it.
func (a *app) handleSlash(out io.Writer, line string, sess *session.Session, opts chatOptions) (bool, *session.Session) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/status":
		a.printStatus(out, sess)
		return false, nil
	case "/task":
		if len(fields) < 2 {
			fmt.Fprintf(out, "usage: /task <name>; known tasks:\n")
			for _, t := range contract.TaskTypes() {
				fmt.Fprintf(out, "  %s\n", t)
			}
			return false, nil
		}
		taskType := contract.ParseTaskType(fields[1])
		if !a.contracts.Known(taskType) {
			fmt.Fprintf(out, "unknown task %q\n", fields[1])
			return false, nil
		}
		a.sessions.Close(sess.ID())
		a.store.ForgetSession(sess.ID())
		newSess := a.sessions.Get(opts.sessionID, taskType)
		fmt.Fprintf(out, "switched to task %s (conversation reset)\n", taskType)
		return false, newSess
	default:
		fmt.Fprintf(out, "unknown command %s (try /task, /status, /quit)\n", fields[0])
		return false, nil
	}
}

// runOneTurn executes a turn and reports the outcome on out.
func (a *app) runOneTurn(ctx context.Context, out io.Writer, sess *session.Session, input string, flags prompt.Flags, decider workflow.Decider) error {
	outcome, err := a.runner.RunTurn(ctx, sess, input, flags, decider)
	if err != nil {
		if errors.Is(err, session.ErrSessionBusy) {
			return fmt.Errorf("session %s already has a request in flight", sess.ID())
		}
		if workflow.IsTransport(err) {
			return fmt.Errorf("no reply received, nothing was changed: %w", err)
		}
		return err
	}

	if outcome.Proposal.Narrative != "" {
		fmt.Fprintf(out, "\n%s\n", outcome.Proposal.Narrative)
	}
	if outcome.Proposal.Err != nil {
		fmt.Fprintf(out, "\nreply could not be parsed (%s); no changes were made\n", outcome.Proposal.Err.Diagnosis)
	}
	for _, q := range sess.OpenQuestions() {
		fmt.Fprintf(out, "open question [%s]: %s\n", q.ID, q.Text)
	}

	if len(outcome.Accepted) > 0 {
		a.writeFileArtifacts(outcome.Accepted)
		if outcome.TraceabilityUpdated {
			a.writeFileArtifacts([]artifact.Kind{artifact.KindTraceability})
		}
		for _, kind := range outcome.Accepted {
			fmt.Fprintf(out, "applied %s (now v%d)\n", kind, outcome.NewVersions[kind])
		}
	}
	for _, kind := range outcome.Rejected {
		fmt.Fprintf(out, "rejected %s\n", kind)
	}
	if outcome.ApplyErr != nil {
		fmt.Fprintf(out, "apply failed: %v\nre-run the turn to propose against the current versions\n", outcome.ApplyErr)
	}
	return nil
}

func (a *app) printStatus(out io.Writer, sess *session.Session) {
	fmt.Fprintf(out, "workspace: %s\n", a.cfg.Workspace.Dir)
	for _, kind := range artifact.Kinds() {
		art := a.store.Get(kind)
		state := "present"
		if art.Content == "" {
			state = "empty"
		}
		fmt.Fprintf(out, "  %-16s v%-3d %s (%d bytes)\n", kind, art.Version, state, len(art.Content))
	}

	if sess != nil {
		fmt.Fprintf(out, "session: %s\n%s\n", sess.ID(), indent(sess.Summary(), "  "))
	}

	procedureJSON := a.store.Get(artifact.KindProcedureJSON).Content
	testCode := a.store.Get(artifact.KindTestCode).Content
	if procedureJSON == "" || testCode == "" {
		return
	}
	m, err := trace.NewMapper().Build(context.Background(), procedureJSON, testCode)
	if err != nil {
		fmt.Fprintf(out, "traceability: %v\n", err)
		return
	}
	fmt.Fprintf(out, "traceability:\n%s\n", indent(m.Summary(), "  "))
}

// statusCmd prints artifact versions and the traceability summary.
func statusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show artifact versions and traceability",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel)
			cfg, err := loadConfig(flags, logger)
			if err != nil {
				return err
			}
			store := artifact.NewStore(artifact.WithLogger(logger))
			if _, err := artifact.LoadDir(store, cfg.Workspace.Dir); err != nil {
				return err
			}
			a := &app{cfg: cfg, logger: logger, store: store}
			a.printStatus(cmd.OutOrStdout(), nil)
			return nil
		},
	}
}

// tasksCmd lists the task contract table.
func tasksCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List task types and their artifact contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel)
			cfg, err := loadConfig(flags, logger)
			if err != nil {
				return err
			}
			table, err := loadContracts(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range contract.TaskTypes() {
				if !table.Known(t) {
					continue
				}
				c := table.Get(t)
				fmt.Fprintf(out, "%s\n  inputs:    %s\n  proposals: %s\n", t, kindList(c.InputKinds), kindList(c.ProposalKinds))
			}
			return nil
		},
	}
}

// initCmd writes a starter project config into the workspace.
func initCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default procstudio.yaml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := flags.workspaceDir
			if dir == "" {
				dir = "."
			}
			path := filepath.Join(dir, config.ProjectConfigFile)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			cfg := config.DefaultConfig()
			if err := cfg.SaveToFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}

func chooseDecider(yes bool, in *bufio.Reader, out io.Writer) workflow.Decider {
	if yes {
		return acceptAllDecider(out)
	}
	return promptDecider(in, out)
}

// resolveInput takes the message from args, or reads stdin to EOF.
func resolveInput(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read message from stdin: %w", err)
	}
	input := strings.TrimSpace(string(data))
	if input == "" {
		return "", errors.New("no message given (pass as argument or on stdin)")
	}
	return input, nil
}

func kindList(kinds []artifact.Kind) string {
	if len(kinds) == 0 {
		return "(none)"
	}
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
