package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourorg/diagflow/internal/analyzer"
	"github.com/yourorg/diagflow/internal/archive"
	"github.com/yourorg/diagflow/internal/metric"
	"github.com/yourorg/diagflow/internal/odx"
	"github.com/yourorg/diagflow/internal/report"
	"github.com/yourorg/diagflow/internal/server"
	"github.com/yourorg/diagflow/internal/store"
	"github.com/yourorg/diagflow/internal/uds"
	"github.com/yourorg/diagflow/pkg/types"
)

type scopeFlags struct {
	oem, model, year, vin string
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.oem, "oem", "", "scope OEM (overrides config)")
	cmd.Flags().StringVar(&f.model, "model", "", "scope model (overrides config)")
	cmd.Flags().StringVar(&f.year, "year", "", "scope model year (overrides config)")
	cmd.Flags().StringVar(&f.vin, "vin", "", "vehicle VIN")
}

func (f *scopeFlags) scope(base types.Scope) types.Scope {
	if f.oem != "" {
		base.OEM = f.oem
	}
	if f.model != "" {
		base.Model = f.model
	}
	if f.year != "" {
		base.ModelYear = f.year
	}
	return base
}

// session opens the store and an analyzer over it. close releases both.
type session struct {
	store    *store.SQLiteStore
	analyzer *analyzer.Analyzer
	archive  *archive.Writer
}

func (s *session) close() {
	if s.archive != nil {
		_ = s.archive.Close()
	}
	_ = s.store.Close()
}

func (a *app) session(ctx context.Context, opts ...analyzer.Option) (*session, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	s := &session{store: st}
	opts = append(opts, analyzer.WithLogger(a.log()))
	if cfg.Archive.ClickHouse.Enabled {
		w, err := archive.New(ctx, cfg.Archive.ClickHouse, a.log())
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		s.archive = w
		opts = append(opts, analyzer.WithArchiver(w))
	}
	s.analyzer, err = analyzer.New(cfg, st, opts...)
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func importFile(ctx context.Context, an *analyzer.Analyzer, path, name string, scope types.Scope, vin string) (*analyzer.ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return an.Import(ctx, name, path, f, scope, vin)
}

func printImport(w io.Writer, imp *analyzer.ImportResult) {
	fmt.Fprintf(w, "imported %s: %d lines, %d frames, %d metadata, %d discarded\n",
		imp.Job.ID, imp.Stats.Lines, imp.Stats.Parsed, imp.Stats.Metadata, imp.Stats.Discarded)
}

func newImportCmd(a *app) *cobra.Command {
	var name string
	var sf scopeFlags
	cmd := &cobra.Command{
		Use:   "import <trace.log>",
		Short: "Import a trace log into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			imp, err := importFile(cmd.Context(), s.analyzer, args[0], name, sf.scope(a.cfg.Scope), sf.vin)
			if err != nil {
				return err
			}
			printImport(cmd.OutOrStdout(), imp)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name (defaults to the file name)")
	sf.register(cmd)
	return cmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var name string
	var sf scopeFlags
	cmd := &cobra.Command{
		Use:   "analyze <job-id | trace.log>",
		Short: "Group procedures, run discovery and write reports and ODX",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			scope := sf.scope(cfg.Scope)
			jobID := args[0]
			if info, err := os.Stat(args[0]); err == nil && info.Mode().IsRegular() {
				imp, err := importFile(cmd.Context(), s.analyzer, args[0], name, scope, sf.vin)
				if err != nil {
					return err
				}
				printImport(cmd.ErrOrStderr(), imp)
				jobID = imp.Job.ID
			}

			res, err := s.analyzer.Analyze(cmd.Context(), jobID, scope, func(stage string) {
				fmt.Fprintln(cmd.ErrOrStderr(), "==>", stage)
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Terminal(res.Report()))
			for _, f := range res.Files {
				fmt.Fprintln(cmd.OutOrStdout(), "wrote", f)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name when importing a file")
	sf.register(cmd)
	return cmd
}

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))).
		Headers(headers...).
		Rows(rows...).
		String()
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			jobs, err := st.ListJobs()
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no jobs")
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{j.ID, j.Name, j.ScopeID, j.VIN, strconv.Itoa(j.MessageCount), j.Status, j.CreatedAt.Local().Format("2006-01-02 15:04")})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "NAME", "SCOPE", "VIN", "MESSAGES", "STATUS", "CREATED"}, rows))
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show job details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			in, err := s.analyzer.Inspect(args[0])
			if err != nil {
				return err
			}
			runs, err := s.store.ListDiscoveryRuns(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Terminal(in))
			if len(runs) > 0 {
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{r.ID, r.Status, strconv.Itoa(r.Created), strconv.Itoa(r.Existing), strconv.Itoa(r.Pending), r.Error})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"RUN", "STATUS", "CREATED", "EXISTING", "PENDING", "ERROR"}, rows))
			}
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job with its messages and procedures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if _, err := st.GetJob(args[0]); err != nil {
				return fmt.Errorf("job %s: %w", args[0], err)
			}
			if err := st.DeleteJob(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
			return nil
		},
	}
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex>...",
		Short: "Decode UDS payloads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				res := uds.DecodeHex(arg)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", types.NormalizeHex(arg), res.Kind, res.ServiceLabel, res.Description)
			}
			return nil
		},
	}
}

func newKnowledgeCmd(a *app) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "List knowledge records",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			recs, err := st.ListKnowledge(scope)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no knowledge records")
				return nil
			}
			rows := make([][]string, 0, len(recs))
			for _, r := range recs {
				verified := "no"
				if r.Verified {
					verified = "yes"
				}
				rows = append(rows, []string{string(r.Kind), r.Identifier, r.Name, r.ScopeID, strconv.FormatFloat(r.Confidence, 'f', 2, 64), verified, r.Source})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"KIND", "ID", "NAME", "SCOPE", "CONF", "VERIFIED", "SOURCE"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope id, e.g. land-rover/defender/2022 (all when empty)")
	return cmd
}

func newODXCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "odx", Short: "Export and validate ODX units"}

	var out string
	var sf scopeFlags
	export := &cobra.Command{
		Use:   "export <job-id>",
		Short: "Write the ODX units of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			dir := out
			if dir == "" {
				dir = filepath.Join(a.cfg.Output.Dir, args[0], "odx")
			}
			paths, err := s.analyzer.ExportODX(cmd.Context(), args[0], sf.scope(a.cfg.Scope), dir)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), "wrote", p)
			}
			return nil
		},
	}
	export.Flags().StringVar(&out, "out", "", "output directory")
	sf.register(export)

	validate := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Parse ODX units and report schema violations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := odx.ParseFiles(args...)
			if err != nil {
				return err
			}
			services, dtcs := 0, 0
			for _, l := range p.Layers {
				services += len(l.Services)
				dtcs += len(l.DTCs)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d layers, %d services, %d DTCs, %d logical links\n",
				len(p.Layers), services, dtcs, len(p.Vehicle.LogicalLinks))
			return nil
		},
	}

	cmd.AddCommand(export, validate)
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := a.config()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			m := metric.New()
			s, err := a.session(ctx, analyzer.WithMetrics(m))
			if err != nil {
				return err
			}
			defer s.close()

			srv, err := server.New(cfg, s.store, s.analyzer, m, a.log())
			if err != nil {
				return err
			}
			if host == "" {
				host = cfg.Server.Host
			}
			if port == 0 {
				port = cfg.Server.Port
			}
			addr := net.JoinHostPort(host, strconv.Itoa(port))
			a.log().Info("serving", zap.String("addr", addr), zap.String("output", cfg.Output.Dir))
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "server host (defaults to server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "server port (defaults to server.port)")
	return cmd
}
