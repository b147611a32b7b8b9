package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sloppy/orangesage/internal/config"
	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/export"
	"github.com/sloppy/orangesage/internal/finding"
	"github.com/sloppy/orangesage/internal/orchestrator"
	"github.com/sloppy/orangesage/internal/phase"
	"github.com/sloppy/orangesage/internal/report"
)

func newProjectsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "projects", Short: "Manage projects"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				projects, err := a.orch.ListProjects(ctx)
				if err != nil {
					return fmt.Errorf("list projects: %w", err)
				}
				for _, p := range projects {
					fmt.Fprintf(c.out, "%d\t%s\n", p.ID, p.Name)
				}
				return nil
			})
		},
	})

	var description string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project owned by --user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				p, err := a.orch.CreateProject(ctx, strings.Join(args, " "), description)
				if err != nil {
					return fmt.Errorf("create project: %w", err)
				}
				fmt.Fprintf(c.out, "created project %d\t%s\n", p.ID, p.Name)
				return nil
			})
		},
	}
	create.Flags().StringVar(&description, "description", "", "project description")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project with its targets and scans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "project")
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.orch.DeleteProject(ctx, id); err != nil {
					return fmt.Errorf("delete project: %w", err)
				}
				fmt.Fprintf(c.out, "deleted project %d\n", id)
				return nil
			})
		},
	})
	return cmd
}

func newTargetsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "targets", Short: "Manage scan targets"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's targets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID(args[0], "project")
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				targets, err := a.orch.ListTargets(ctx, projectID)
				if err != nil {
					return fmt.Errorf("list targets: %w", err)
				}
				for _, t := range targets {
					fmt.Fprintf(c.out, "%d\t%s\t%s\t%s\n", t.ID, t.Type, t.Value, t.Name)
				}
				return nil
			})
		},
	})

	var typ, name string
	add := &cobra.Command{
		Use:   "add <project-id> <value>",
		Short: "Add a target to a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID(args[0], "project")
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				t, err := a.orch.CreateTarget(ctx, db.Target{ProjectID: projectID, Name: name, Type: typ, Value: args[1]})
				if err != nil {
					return fmt.Errorf("add target: %w", err)
				}
				fmt.Fprintf(c.out, "created target %d\t%s\n", t.ID, t.Value)
				return nil
			})
		},
	}
	add.Flags().StringVar(&typ, "type", "url", "target type: "+strings.Join(db.TargetTypes, ", "))
	add.Flags().StringVar(&name, "name", "", "display name (defaults to the value)")
	cmd.AddCommand(add)
	return cmd
}

func newScanCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "scan", Short: "Create, run and inspect scans"}

	var profile string
	var start bool
	create := &cobra.Command{
		Use:   "create <project-id> <target-id>",
		Short: "Create a pending scan, optionally running it to completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseID(args[0], "project")
			if err != nil {
				return err
			}
			targetID, err := parseID(args[1], "target")
			if err != nil {
				return err
			}
			opts, err := scanOptions(profile)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				s, err := a.orch.CreateScan(ctx, projectID, targetID, opts)
				if err != nil {
					return fmt.Errorf("create scan: %w", err)
				}
				fmt.Fprintf(c.out, "created scan %d\n", s.ID)
				if !start {
					return nil
				}
				return c.runScan(ctx, a, s.ID)
			})
		},
	}
	create.Flags().StringVar(&profile, "profile", "", "YAML scan profile overlaid on the defaults")
	create.Flags().BoolVar(&start, "start", false, "start the scan and wait for it to finish")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "start <scan-id>",
		Short: "Run a pending scan to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "scan")
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				return c.runScan(ctx, a, id)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status <scan-id>",
		Short: "Show scan progress and results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "scan")
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				return c.printStatus(ctx, a, id)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <scan-id>",
		Short: "Cancel a running scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "scan")
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.orch.CancelScan(ctx, id); err != nil {
					return fmt.Errorf("cancel scan: %w", err)
				}
				fmt.Fprintf(c.out, "cancelled scan %d\n", id)
				return nil
			})
		},
	})

	var projectID int64
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List scans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				scans, err := a.orch.ListScans(ctx, db.ScanFilter{ProjectID: projectID, Status: db.ScanStatus(status)})
				if err != nil {
					return fmt.Errorf("list scans: %w", err)
				}
				tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tProject\tTarget\tStatus\tCreated")
				for _, s := range scans {
					fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\n", s.ID, s.ProjectID, s.TargetID, s.Status, s.CreatedAt.UTC().Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().Int64Var(&projectID, "project", 0, "only scans of this project")
	list.Flags().StringVar(&status, "status", "", "only scans in this state")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "agents <scan-id>",
		Short: "List a scan's agents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "scan")
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				agents, err := a.orch.ListScanAgents(ctx, id)
				if err != nil {
					return fmt.Errorf("list agents: %w", err)
				}
				tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tName\tType\tStatus\tIteration")
				for _, ag := range agents {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\n", ag.ID, ag.Name, ag.AgentType, ag.Status, ag.Iteration, ag.MaxIterations)
				}
				return tw.Flush()
			})
		},
	})
	return cmd
}

func scanOptions(profile string) (config.ScanOptions, error) {
	if profile == "" {
		return config.DefaultScanOptions(), nil
	}
	return config.LoadScanProfile(profile)
}

// runScan starts a scan and blocks until it finishes or ctx ends.
func (c *cli) runScan(ctx context.Context, a *app, id int64) error {
	run, err := a.orch.StartScan(ctx, id)
	if err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	fmt.Fprintf(c.out, "scan %d running (root agent %s)\n", id, run.RootAgentID)
	if err := run.Wait(ctx); err != nil {
		return fmt.Errorf("scan %d: %w", id, err)
	}
	return c.printStatus(ctx, a, id)
}

func (c *cli) printStatus(ctx context.Context, a *app, id int64) error {
	st, err := a.orch.GetScanStatus(ctx, id)
	if err != nil {
		return fmt.Errorf("scan status: %w", err)
	}
	s := st.Scan
	fmt.Fprintf(c.out, "%s %s %d%%\n", titleStyle.Render(fmt.Sprintf("Scan #%d", s.ID)), styleStatus(s.Status), st.Progress)
	if s.ErrorMessage != "" {
		fmt.Fprintf(c.out, "%s %s\n", labelStyle.Render("Error:"), s.ErrorMessage)
	}

	parts := make([]string, 0, len(finding.Severities))
	for _, sev := range finding.Severities {
		parts = append(parts, fmt.Sprintf("%s %d", styleSeverity(sev), st.Counts[sev]))
	}
	fmt.Fprintf(c.out, "%s %d (%s)\n", labelStyle.Render("Findings:"), st.FindingsCount, strings.Join(parts, ", "))

	if s.Status != db.ScanCompleted {
		return nil
	}
	sum, err := orchestrator.ParseSummary(s.Summary)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s %d/100 %s\n", labelStyle.Render("Risk:"), sum.Risk.Score, styleRisk(sum.Risk.Level))
	for _, combo := range sum.Risk.Combinations {
		fmt.Fprintf(c.out, "  ! %s\n", combo)
	}
	for _, chain := range sum.Correlation.AttackChains {
		fmt.Fprintf(c.out, "%s %s (%s)\n", labelStyle.Render("Attack chain:"), chain.Name, chain.RiskLevel)
	}
	for _, name := range []phase.Name{phase.AgentPentest, phase.Microservices, phase.Advanced, phase.Report} {
		ph, ok := sum.Phases[name]
		if !ok {
			continue
		}
		state := "ok"
		switch {
		case ph.Skipped:
			state = "skipped"
		case !ph.Success:
			state = "failed: " + ph.Error
		}
		fmt.Fprintf(c.out, "%s %s %s\n", labelStyle.Render("Phase:"), name, state)
	}
	for i, rec := range sum.Recommendations {
		fmt.Fprintf(c.out, "%2d. %s\n", i+1, rec)
	}
	return nil
}

func newFindingsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "findings", Short: "List and triage findings"}

	var severity, status string
	list := &cobra.Command{
		Use:   "list <scan-id>",
		Short: "List a scan's findings, most severe first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "scan")
			if err != nil {
				return err
			}
			filter := db.FindingFilter{ScanID: id}
			if severity != "" {
				if filter.Severity, err = finding.ParseSeverity(severity); err != nil {
					return err
				}
			}
			if status != "" {
				if filter.Status, err = finding.ParseStatus(status); err != nil {
					return err
				}
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				findings, err := a.orch.ListFindings(ctx, filter)
				if err != nil {
					return fmt.Errorf("list findings: %w", err)
				}
				finding.SortBySeverity(findings)
				tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSeverity\tType\tTitle\tStatus")
				for _, f := range findings {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", f.ID, f.Severity, f.VulnerabilityType, f.Title, f.Status)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVar(&severity, "severity", "", "only this severity")
	list.Flags().StringVar(&status, "status", "", "only this triage status")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "triage <finding-id> <open|triaged|false_positive|resolved>",
		Short: "Set a finding's triage status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "finding")
			if err != nil {
				return err
			}
			st, err := finding.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				f, err := a.orch.UpdateFindingStatus(ctx, id, st)
				if err != nil {
					return fmt.Errorf("triage finding: %w", err)
				}
				fmt.Fprintf(c.out, "finding %d is %s\n", f.ID, f.Status)
				return nil
			})
		},
	})
	return cmd
}

func newReportCmd(c *cli) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "report <scan-id>",
		Short: "Render a scan report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "scan")
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				data, rec, err := a.orch.GetScanReport(ctx, id, format)
				if err != nil {
					return fmt.Errorf("generate report: %w", err)
				}
				path := output
				if path == "" {
					path = rec.Filename
				}
				if path == "-" {
					_, err := c.out.Write(data)
					return err
				}
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				fmt.Fprintf(c.out, "wrote %s (%d bytes)\n", path, len(data))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", string(report.PDF), "pdf, html, markdown or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout (defaults to the report filename)")
	return cmd
}

func newExportCmd(c *cli) *cobra.Command {
	var format, output string
	var project bool
	cmd := &cobra.Command{
		Use:   "export <scan-id>",
		Short: "Export findings as JSON, CSV or text",
		Long:  "Export a scan's findings. With --project the argument is a project id and every scan of it is exported.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			what := "scan"
			if project {
				what = "project"
			}
			id, err := parseID(args[0], what)
			if err != nil {
				return err
			}
			format = strings.ToLower(format)

			var write func(*db.DB, int64, io.Writer) error
			switch {
			case format == "json" && project:
				write = export.ExportProjectJSON
			case format == "csv" && project:
				write = export.ExportProjectCSV
			case format == "json":
				write = export.ExportScanJSON
			case format == "csv":
				write = export.ExportScanCSV
			case format == "text" && !project:
				write = export.ExportScanText
			default:
				return fmt.Errorf("unsupported %s export format %q", what, format)
			}

			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if project {
					_, err = a.orch.GetProject(ctx, id)
				} else {
					_, err = a.orch.GetScanStatus(ctx, id)
				}
				if err != nil {
					return err
				}

				var w io.Writer = c.out
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("create output: %w", err)
					}
					defer f.Close()
					w = f
				}
				if err := write(a.db, id, w); err != nil {
					return fmt.Errorf("export: %w", err)
				}
				if output != "" {
					fmt.Fprintf(c.errOut, "exported to %s\n", output)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json, csv or text")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (defaults to stdout)")
	cmd.Flags().BoolVar(&project, "project", false, "export every scan of a project")
	return cmd
}
