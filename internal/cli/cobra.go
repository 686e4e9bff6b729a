// Package cli implements the patina command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"patina/internal/analysis"
	"patina/internal/config"
	"patina/internal/image"
	"patina/internal/logging"
	"patina/internal/store"
	"patina/internal/version"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Root carries state shared by every subcommand once flags are parsed.
type Root struct {
	configPath string
	logMode    string

	cfg *config.Config
	log *zap.Logger
}

// NewRootCmd creates the root Cobra command.
func NewRootCmd() *cobra.Command {
	root := &Root{}

	rootCmd := &cobra.Command{
		Use:   "patina",
		Short: "Patina measures how a photographed subject changed between two captures",
		Long: `Patina aligns two photographs of the same subject taken at different times and
reports a degradation score, the matched zone and the perceptual colour shift.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return root.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if root.log != nil {
				_ = root.log.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&root.configPath, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&root.logMode, "log-mode", "", "log mode (development|production|quiet)")

	rootCmd.AddCommand(newCompareCmd(root))
	rootCmd.AddCommand(newHistoryCmd(root))
	rootCmd.AddCommand(newShowCmd(root))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Run executes the command line in args and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func (r *Root) init() error {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return err
	}
	if r.logMode != "" {
		cfg.Log.Mode = r.logMode
	}
	log, err := logging.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	r.cfg, r.log = cfg, log
	return nil
}

func (r *Root) openStore() (*store.Store, error) {
	s, err := store.Open(r.cfg.Store.Path)
	if err != nil {
		return nil, logging.NewOperationError("store.open", "", err)
	}
	return s, nil
}

type compareFlags struct {
	ratio          float64
	reproj         float64
	maxKeypoints   int
	seed           uint64
	detector       string
	diagnosticsDir string
	asJSON         bool
	save           bool
}

func newCompareCmd(root *Root) *cobra.Command {
	var f compareFlags

	cmd := &cobra.Command{
		Use:   "compare <origin> <compared>",
		Short: "Compare two photographs of the same subject",
		Long: `Load two photographs (file paths or http(s) URLs), align the compared image onto
the origin image and score the change between them.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runCompare(cmd, args[0], args[1], f)
		},
	}

	d := analysis.DefaultOptions()
	cmd.Flags().Float64Var(&f.ratio, "ratio", d.RatioTestThreshold, "nearest-neighbour ratio test threshold")
	cmd.Flags().Float64Var(&f.reproj, "reproj", d.RansacReprojectionPx, "RANSAC inlier reprojection threshold in pixels")
	cmd.Flags().IntVar(&f.maxKeypoints, "max-keypoints", d.MaxKeypoints, "keep only the strongest N keypoints (0 = all)")
	cmd.Flags().Uint64Var(&f.seed, "seed", d.RandomSeed, "random seed for the consensus search")
	cmd.Flags().StringVar(&f.detector, "detector", d.Detector, "keypoint detector (akaze|orb)")
	cmd.Flags().StringVar(&f.diagnosticsDir, "diagnostics-dir", "", "write diagnostic PNGs to this directory")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&f.save, "save", false, "store the result in the history database")

	return cmd
}

func (r *Root) runCompare(cmd *cobra.Command, originSrc, comparedSrc string, f compareFlags) error {
	id := uuid.NewString()
	log := logging.WithOperation(r.log, "compare", id)

	opts := r.cfg.AnalysisOptions(log)
	flags := cmd.Flags()
	if flags.Changed("ratio") {
		opts.RatioTestThreshold = f.ratio
	}
	if flags.Changed("reproj") {
		opts.RansacReprojectionPx = f.reproj
	}
	if flags.Changed("max-keypoints") {
		opts.MaxKeypoints = f.maxKeypoints
	}
	if flags.Changed("seed") {
		opts.RandomSeed = f.seed
	}
	if flags.Changed("detector") {
		opts.Detector = f.detector
	}
	if f.diagnosticsDir != "" {
		opts.Diagnostics = true
	}

	svc, err := analysis.NewService(opts, r.cfg.Service.MaxConcurrent, r.cfg.Service.QueueTimeout)
	if err != nil {
		return err
	}
	loader := image.NewLoader(r.cfg.Fetch.Timeout, log)
	if r.cfg.Fetch.MaxBytes > 0 {
		loader.MaxBytes = r.cfg.Fetch.MaxBytes
	}

	res, err := svc.CompareSources(cmd.Context(), loader, originSrc, comparedSrc)
	if err != nil {
		opErr := logging.NewOperationError("compare", id, err)
		logging.LogError(r.log, "comparison failed", opErr)
		return opErr
	}

	if f.diagnosticsDir != "" {
		if err := writeDiagnostics(f.diagnosticsDir, res.Diagnostics); err != nil {
			return logging.NewOperationError("compare.diagnostics", id, err)
		}
	}

	rec := store.NewRecord(id, originSrc, comparedSrc, res)
	if f.save {
		s, err := r.openStore()
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Save(cmd.Context(), rec); err != nil {
			return logging.NewOperationError("store.save", id, err)
		}
		log.Info("analysis saved", zap.String("store", r.cfg.Store.Path))
	}

	if f.asJSON {
		return writeJSON(cmd.OutOrStdout(), rec)
	}
	printSummary(cmd.OutOrStdout(), rec, f.save)
	return nil
}

func writeDiagnostics(dir string, d analysis.Diagnostics) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files := []struct {
		name string
		data []byte
	}{
		{"origin_keypoints.png", d.OriginKeypoints},
		{"compared_keypoints.png", d.ComparedKeypoints},
		{"aligned_overlay.png", d.AlignedOverlay},
	}
	for _, f := range files {
		if len(f.data) == 0 {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, f.name), f.data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(w io.Writer, rec store.Record, saved bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	if saved {
		fmt.Fprintf(tw, "id:\t%s\n", rec.ID)
	}
	fmt.Fprintf(tw, "state:\t%s\n", rec.State)
	fmt.Fprintf(tw, "degradation score:\t%.4f\n", rec.DegradationScore)
	if rec.ColorComputed {
		fmt.Fprintf(tw, "color difference:\t%.2f ΔE2000\n", rec.ColorDifference)
	} else {
		fmt.Fprintf(tw, "color difference:\tnot computed\n")
	}
	if z := rec.MatchedZone; z != nil {
		fmt.Fprintf(tw, "matched zone:\tx=%.3f y=%.3f w=%.3f h=%.3f\n", z.X, z.Y, z.Width, z.Height)
	} else {
		fmt.Fprintf(tw, "matched zone:\tnone\n")
	}
	if rec.FailureReason != "" {
		fmt.Fprintf(tw, "reason:\t%s\n", rec.FailureReason)
	}
	if res := rec.Result; res != nil {
		fmt.Fprintf(tw, "matches:\t%d accepted, %d inliers\n", res.Stats.AcceptedMatches, res.Stats.Inliers)
	}
}

func newHistoryCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored analyses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			recs, err := s.List(cmd.Context(), limit)
			if err != nil {
				return logging.NewOperationError("store.list", "", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSTATE\tDEGRADATION\tORIGIN\tCOMPARED")
			for _, rec := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%s\t%s\n",
					rec.ID, rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.State,
					rec.DegradationScore, rec.OriginSource, rec.ComparedSource)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of analyses to list (0 = all)")
	return cmd
}

func newShowCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one stored analysis as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			rec, err := s.Get(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no analysis with id %s", args[0])
			}
			if err != nil {
				return logging.NewOperationError("store.get", args[0], err)
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
