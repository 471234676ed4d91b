package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/stationctl/app"
	"github.com/kilianp07/stationctl/config"
	corestore "github.com/kilianp07/stationctl/core/store"
	"github.com/kilianp07/stationctl/infra/logger"
	"github.com/kilianp07/stationctl/infra/store"
)

var (
	rankLine         string
	rankFreightNeeds bool
	rankAllFree      bool
)

var rankCmd = &cobra.Command{
	Use:   "rank TRAIN_NO",
	Short: "Rank free resources for a train without changing state",
	Args:  cobra.ExactArgs(1),
	RunE:  runRank,
}

var linesCmd = &cobra.Command{
	Use:   "lines",
	Short: "List incoming lines known to the blockage matrix",
	RunE:  runLines,
}

var trainsCmd = &cobra.Command{
	Use:   "trains",
	Short: "List the train master",
	RunE:  runTrains,
}

func init() {
	rankCmd.Flags().StringVarP(&rankLine, "line", "l", "", "incoming line")
	rankCmd.Flags().BoolVar(&rankFreightNeeds, "freight-needs-platform", false, "rank platforms for a freight train")
	rankCmd.Flags().BoolVar(&rankAllFree, "all-free", false, "ignore the persisted state and treat every resource as free")
	rootCmd.AddCommand(rankCmd, linesCmd, trainsCmd)
}

func runRank(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	engine, err := app.NewEngine(cfg.Station)
	if err != nil {
		return err
	}
	master, err := app.OpenTrains(ctx, cfg.Station, logger.NopLogger{})
	if err != nil {
		return err
	}
	t, err := master.GetTrain(ctx, args[0])
	if err != nil {
		return fmt.Errorf("train %s: %w", args[0], err)
	}
	if t.IsFreight() && cmd.Flags().Changed("freight-needs-platform") {
		t.NeedsPlatform = rankFreightNeeds
	}

	free := engine.Layout().ResourceIDs()
	if !rankAllFree {
		st, err := store.New(cfg.Store)
		if err != nil {
			return fmt.Errorf("state store: %w", err)
		}
		defer func() { _ = st.Close() }()
		state, err := st.LoadState(ctx)
		switch {
		case errors.Is(err, corestore.ErrNoState):
		case err != nil:
			return fmt.Errorf("load state: %w", err)
		default:
			free = state.FreeResourceIDs()
		}
	}

	rankings := engine.Rank(t, free, rankLine)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tRESOURCES\tSCORE\tHISTORICAL\tGROUP")
	for i, r := range rankings {
		fmt.Fprintf(w, "%d\t%s\t%.2f\t%t\t%s\n", i+1, strings.Join(r.ResourceIDs, "+"), r.Score, r.HistoricalMatch, r.Group)
	}
	return w.Flush()
}

func runLines(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	engine, err := app.NewEngine(cfg.Station)
	if err != nil {
		return err
	}
	for _, l := range engine.Matrix().Lines() {
		suffix := ""
		if engine.IsLineAgnostic(l) {
			suffix = " (line agnostic)"
		}
		fmt.Fprintln(cmd.OutOrStdout(), l+suffix)
	}
	return nil
}

func runTrains(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	master, err := app.OpenTrains(cmd.Context(), cfg.Station, logger.New("trainmaster"))
	if err != nil {
		return err
	}
	ts, err := master.ListTrains(context.Background())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRAIN\tNAME\tTYPE\tLENGTH\tDIR\tARR\tDEP")
	for _, t := range ts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Type, t.Length, t.Direction, t.ScheduledArrival, t.ScheduledDeparture)
	}
	return w.Flush()
}
