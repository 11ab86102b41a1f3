package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"classquiz/internal/app"
	"classquiz/internal/config"
	"classquiz/internal/domain"
	"github.com/spf13/cobra"
)

// NewHostCmd runs the interactive host console against a store served by `serve`.
func NewHostCmd(configPath *string) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Drive a quiz session as the host",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("HOST_PASSWORD")
			}
			client := storeClient(cfg)
			host := app.NewHost(client, app.HostOptions{
				Password:   cfg.Host.Password,
				TimeBudget: cfg.Game.TimeBudget,
				Countdown:  config.Duration(cfg.Game.Countdown, app.DefaultCountdown),
				Cadence:    cadenceFromConfig(cfg),
				Logger:     &logger,
				Questions:  client,
			})
			defer host.Close()

			if !host.Authenticate(password) {
				return domain.ErrNotAuthenticated
			}
			if err := host.Enter(cmd.Context()); err != nil {
				return err
			}
			return runHostConsole(cmd.Context(), host, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "host password (env HOST_PASSWORD)")
	return cmd
}

const hostHelp = `commands:
  budget <10|15|20|30>                        set the time per question
  add <prompt>|<a>|<b>|<c>|<d>|<correct 0-3>|<seconds>
  start | result | ranking | next             move the game forward
  status | reset | quit`

func runHostConsole(ctx context.Context, host *app.Host, in io.Reader, out io.Writer) error {
	updates, cancel := host.View().Subscribe()
	defer cancel()
	go renderHost(host, updates, out)

	fmt.Fprintln(out, hostHelp)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "budget":
			var seconds int
			if len(fields) > 1 {
				seconds, _ = strconv.Atoi(fields[1])
			}
			err = host.SetTimeBudget(seconds)
		case "add":
			var q domain.Question
			q, err = parseQuestion(strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "add")))
			if err == nil {
				q, err = host.SaveQuestion(ctx, q)
			}
			if err == nil {
				fmt.Fprintf(out, "saved question %s\n", q.ID)
			}
		case "start":
			err = host.StartGame(ctx)
		case "result":
			err = host.RevealResult(ctx)
		case "ranking":
			var standings []app.Standing
			standings, err = host.RevealRanking(ctx)
			printStandings(out, app.Top(standings, 5))
		case "next":
			err = host.Next(ctx)
			if err == nil && host.View().Snapshot().Phase == domain.PhaseFinal {
				fmt.Fprintln(out, "final podium:")
				printStandings(out, app.Top(host.Standings(), 3))
			}
		case "status":
			printHostStatus(out, host)
		case "reset":
			err = host.Reset(ctx)
		case "quit", "exit":
			return nil
		default:
			fmt.Fprintln(out, hostHelp)
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func renderHost(host *app.Host, updates <-chan app.Snapshot, out io.Writer) {
	var (
		phase     domain.Phase
		answered  = -1
		connected = true
	)
	for snap := range updates {
		if snap.Phase != phase {
			phase = snap.Phase
			answered = -1
			fmt.Fprintf(out, "phase: %s", phase)
			if q, ok := snap.CurrentQuestion(); ok && phase == domain.PhaseQuiz {
				fmt.Fprintf(out, " | Q%d %s (%ds)", snap.State.CurrentQuestionIndex+1, q.Prompt, snap.State.TimeBudget)
			}
			fmt.Fprintln(out)
		}
		if phase == domain.PhaseQuiz || phase == domain.PhaseResult {
			sum := app.Summarize(snap)
			if sum.Answered != answered {
				answered = sum.Answered
				fmt.Fprintf(out, "answers: %d/%d\n", sum.Answered, sum.Total)
			}
		}
		if snap.Connected != connected {
			connected = snap.Connected
			if connected {
				fmt.Fprintln(out, "store: connected")
			} else {
				fmt.Fprintf(out, "store: degraded (%s)\n", snap.LastError)
			}
		}
	}
}

func printHostStatus(out io.Writer, host *app.Host) {
	snap := host.View().Snapshot()
	fmt.Fprintf(out, "session %s | phase %s | participants %d | budget %ds | timer %d\n",
		snap.State.SessionID, snap.Phase, len(snap.Roster), host.TimeBudget(), host.Countdown())
	if snap.Phase == domain.PhaseResult {
		for _, st := range host.Summary().Stats {
			mark := " "
			if st.IsCorrect {
				mark = "*"
			}
			fmt.Fprintf(out, "  %s option %d: %d (%d%%)\n", mark, st.OptionIndex, st.Count, st.Percentage)
		}
	}
}

func printStandings(out io.Writer, standings []app.Standing) {
	for _, s := range standings {
		move := ""
		switch {
		case s.Delta > 0:
			move = fmt.Sprintf(" (+%d)", s.Delta)
		case s.Delta < 0:
			move = fmt.Sprintf(" (%d)", s.Delta)
		}
		fmt.Fprintf(out, "  %d. %s %d%s\n", s.Rank, s.Name, s.Score, move)
	}
}

func parseQuestion(raw string) (domain.Question, error) {
	parts := strings.Split(raw, "|")
	if len(parts) != 2+domain.OptionCount+1 {
		return domain.Question{}, fmt.Errorf("%w: expected prompt, 4 options, correct index and seconds", domain.ErrInvalidQuestion)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	q := domain.Question{Prompt: parts[0]}
	copy(q.Options[:], parts[1:1+domain.OptionCount])
	correct, err := strconv.Atoi(parts[1+domain.OptionCount])
	if err != nil {
		return domain.Question{}, fmt.Errorf("%w: correct index %q", domain.ErrInvalidQuestion, parts[1+domain.OptionCount])
	}
	limit, err := strconv.Atoi(parts[2+domain.OptionCount])
	if err != nil {
		return domain.Question{}, fmt.Errorf("%w: seconds %q", domain.ErrInvalidQuestion, parts[2+domain.OptionCount])
	}
	q.CorrectIndex = correct
	q.TimeLimit = limit
	return q, q.Validate()
}
