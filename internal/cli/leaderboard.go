package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"trivia-service/internal/config"
	"trivia-service/internal/domain"
	"trivia-service/internal/infra/file"
)

// NewLeaderboardCmd prints the all-time ranking from the snapshot file.
func NewLeaderboardCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the all-time leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			store, err := file.OpenLeaderboardStore(leaderboardPath(cfg), newLogger(cfg, true))
			if err != nil {
				return err
			}
			entries := make([]domain.LeaderboardEntry, 0, limit)
			for e := range store.Ranking() {
				if len(entries) == limit {
					break
				}
				if e.TotalPoints <= 0 {
					continue
				}
				entries = append(entries, e)
			}
			printRanking(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of players to show")
	return cmd
}

func printRanking(w io.Writer, entries []domain.LeaderboardEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no games recorded yet")
		return
	}
	fmt.Fprintf(w, "%-4s %-24s %7s %6s %5s %8s %7s\n", "#", "PLAYER", "POINTS", "GAMES", "WINS", "ACCURACY", "AVG")
	for i, e := range entries {
		fmt.Fprintf(w, "%-4d %-24.24s %7d %6d %5d %7.0f%% %7.1f\n",
			i+1, e.DisplayName, e.TotalPoints, e.GamesPlayed, e.GamesWon, e.Accuracy*100, e.AveragePoints())
	}
}

func leaderboardPath(cfg config.Config) string {
	if cfg.Leaderboard.Path != "" {
		return cfg.Leaderboard.Path
	}
	return "data/leaderboard.json"
}
