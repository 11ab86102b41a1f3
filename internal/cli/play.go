package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"classquiz/internal/app"
	"classquiz/internal/domain"
	"github.com/spf13/cobra"
)

// NewPlayCmd joins the open lobby as a player.
func NewPlayCmd(configPath *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join the open lobby and answer questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			player := app.NewPlayer(storeClient(cfg), app.PlayerOptions{
				Cadence:  cadenceFromConfig(cfg),
				Logger:   &logger,
				Attempts: cfg.Submit.Attempts,
			})
			defer player.Leave()

			me, err := player.Join(cmd.Context(), name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "joined as %s\n", me.Name)
			return runPlayConsole(cmd.Context(), player, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func runPlayConsole(ctx context.Context, player *app.Player, in io.Reader, out io.Writer) error {
	updates, cancel := player.View().Subscribe()
	defer cancel()
	go renderPlayer(player, updates, out)

	fmt.Fprintln(out, "answer with a-d (or 0-3); status; quit")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		input := strings.ToLower(strings.TrimSpace(scanner.Text()))
		switch input {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "status":
			st, err := player.Status()
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "%s | rank %d/%d | score %d | %ds left\n",
				st.Phase, st.Rank, st.Total, st.Participant.Score, st.Remaining)
			continue
		}
		option, ok := parseOption(input)
		if !ok {
			fmt.Fprintln(out, "pick a, b, c or d")
			continue
		}
		if _, err := player.Submit(ctx, option); err != nil {
			fmt.Fprintf(out, "not submitted: %v\n", err)
			continue
		}
		fmt.Fprintln(out, "answer locked in")
	}
	return scanner.Err()
}

func parseOption(input string) (int, bool) {
	if len(input) == 1 && input[0] >= 'a' && input[0] < 'a'+domain.OptionCount {
		return int(input[0] - 'a'), true
	}
	n, err := strconv.Atoi(input)
	if err != nil || n < 0 || n >= domain.OptionCount {
		return 0, false
	}
	return n, true
}

func renderPlayer(player *app.Player, updates <-chan app.Snapshot, out io.Writer) {
	var (
		phase     domain.Phase
		question  = -1
		connected = true
	)
	for snap := range updates {
		if snap.Phase != phase || snap.State.CurrentQuestionIndex != question {
			phase = snap.Phase
			question = snap.State.CurrentQuestionIndex
			switch phase {
			case domain.PhaseQuiz:
				if q, ok := snap.CurrentQuestion(); ok {
					fmt.Fprintf(out, "Q%d (%ds left): %s\n", question+1, player.Remaining(), q.Prompt)
					for i, opt := range q.Options {
						fmt.Fprintf(out, "  %c) %s\n", 'a'+i, opt)
					}
				}
			case domain.PhaseResult:
				if o, ok := player.Outcome(); ok {
					switch {
					case !o.Answered:
						fmt.Fprintf(out, "no answer. correct was %c\n", 'a'+o.Result.CorrectOption)
					case o.Result.IsCorrect:
						fmt.Fprintf(out, "correct! +%d\n", o.Result.Score)
					default:
						fmt.Fprintf(out, "wrong. correct was %c\n", 'a'+o.Result.CorrectOption)
					}
				}
			case domain.PhaseRanking, domain.PhaseFinal:
				if st, err := player.Status(); err == nil {
					fmt.Fprintf(out, "%s: you are #%d of %d with %d points\n", phase, st.Rank, st.Total, st.Participant.Score)
				}
			default:
				fmt.Fprintf(out, "phase: %s\n", phase)
			}
		}
		if snap.Connected != connected {
			connected = snap.Connected
			if connected {
				fmt.Fprintln(out, "connection restored")
			} else {
				fmt.Fprintln(out, "connection degraded, retrying...")
			}
		}
	}
}
