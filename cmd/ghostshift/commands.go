// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/toeirei/ghostshift/internal/config"
	"github.com/toeirei/ghostshift/internal/db"
	"github.com/toeirei/ghostshift/internal/i18n"
	"github.com/toeirei/ghostshift/internal/logging"
	"github.com/toeirei/ghostshift/internal/permission"
	"github.com/toeirei/ghostshift/internal/project"
	"github.com/toeirei/ghostshift/internal/queue"
	"github.com/toeirei/ghostshift/internal/security"
	"github.com/toeirei/ghostshift/internal/upgrade"
	"golang.org/x/term"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: i18n.T("serve.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			mk, err := a.masterKey()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			runner := queue.New(s.BunDB(),
				queue.WithPollInterval(a.cfg.Queue.PollInterval),
				queue.WithJobTimeout(a.cfg.Queue.JobTimeout),
				queue.WithMetrics(queue.NewMetrics(reg)),
			)
			upgrade.Register(runner, upgrade.NewEngine(s, mk, upgrade.WithVersionRetention(a.cfg.Upgrade.VersionRetention)))

			if a.cfg.Metrics.Addr != "" {
				srv, err := serveMetrics(a.cfg.Metrics.Addr, reg)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("serve.metrics", srv.Addr))
				defer func() {
					sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(sctx)
				}()
			}

			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("serve.started", strings.Join(runner.Queues(), ", ")))
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("serve.stopped"))
			return nil
		},
	}
	cmd.Flags().String("metrics-addr", "", "listen address for Prometheus metrics (e.g. :9090)")
	return cmd
}

// serveMetrics starts the metrics endpoint in the background. The returned
// server's Addr is the bound address.
func serveMetrics(addr string, reg *prometheus.Registry) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf("metrics server: %v", err)
		}
	}()
	return srv, nil
}

func newUpgradeCmd(a *app) *cobra.Command {
	var actor, keyFile string
	cmd := &cobra.Command{
		Use:   "upgrade <project-id>",
		Short: i18n.T("upgrade.short"),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			mk, err := a.masterKey()
			if err != nil {
				return err
			}
			key, err := readPrivateKey(cmd, actor, keyFile)
			if err != nil {
				return err
			}
			defer key.Zero()

			svc := project.NewService(s, queue.New(s.BunDB()), permission.NewMembershipAuthorizer(s), mk)
			job, err := svc.UpgradeProject(cmd.Context(), project.UpgradeProjectRequest{
				ProjectID:      args[0],
				ActorID:        actor,
				UserPrivateKey: key,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("upgrade.queued", args[0], job.ID))
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "id of the user starting the upgrade")
	cmd.Flags().StringVar(&keyFile, "private-key-file", "", "file holding the actor's private key (prompted when empty)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

// readPrivateKey reads the key from keyFile, or prompts for it without echo
// on a terminal, or reads one line from stdin otherwise.
func readPrivateKey(cmd *cobra.Command, actor, keyFile string) (security.Secret, error) {
	var raw string
	switch {
	case keyFile != "":
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key file: %w", err)
		}
		raw = string(data)
	case isTerminal(cmd):
		fmt.Fprint(cmd.ErrOrStderr(), i18n.T("upgrade.prompt_key", actor))
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		raw = string(b)
	default:
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return nil, errors.New(i18n.T("upgrade.empty_key"))
		}
		raw = line
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New(i18n.T("upgrade.empty_key"))
	}
	return security.FromString(raw), nil
}

func isTerminal(cmd *cobra.Command) bool {
	return cmd.InOrStdin() == os.Stdin && term.IsTerminal(int(os.Stdin.Fd()))
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Width(16)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-id>",
		Short: i18n.T("status.short"),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			st, err := project.NewService(s, nil, nil, nil).UpgradeStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			status := st.UpgradeStatus.String()
			out := lipgloss.JoinVertical(lipgloss.Left,
				titleStyle.Render(i18n.T("status.title", st.ProjectID)),
				labelStyle.Render(i18n.T("status.version"))+st.Version.String(),
				labelStyle.Render(i18n.T("status.upgrade_status"))+status,
			)
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newJobsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: i18n.T("jobs.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			jobs, err := queue.New(s.BunDB()).List(cmd.Context(), upgrade.QueueName, queue.StatusFailed)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(w, i18n.T("jobs.none"))
				return nil
			}
			fmt.Fprintln(w, titleStyle.Render(i18n.T("jobs.header")))
			for _, j := range jobs {
				var p upgrade.Payload
				_ = j.Decode(&p)
				fmt.Fprintf(w, "%s  %s  %s  %s\n", j.ID, j.FinishedAt.Format(time.RFC3339), p.ProjectID, errorStyle.Render(j.Error))
			}
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: i18n.T("config.short"),
	}
	var system bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: i18n.T("config.init.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.WriteConfigFile(&a.cfg, system)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("config.written", path))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&system, "system", false, "write the system-wide config file")
	cmd.AddCommand(initCmd)
	return cmd
}

func newDBCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: i18n.T("db.short"),
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "maintenance",
		Short: i18n.T("db.maintenance.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := db.RunDBMaintenance(cmd.Context(), a.cfg.Database.Type, a.cfg.Database.Dsn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("db.maintenance.done"))
			return nil
		},
	})
	return cmd
}
