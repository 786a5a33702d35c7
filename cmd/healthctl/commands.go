package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/config"
	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/monitoring"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

const version = "1.0.0"

var errUsage = errors.New("usage")

// newCLI builds the command tree. Results are written to out as JSON and
// logs go to errOut.
func newCLI(out, errOut io.Writer) *cli.App {
	var rt *runtime

	return &cli.App{
		Name:      "healthctl",
		Usage:     "calculate deal and relationship health and manage alerts",
		Version:   version,
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir", Usage: "store directory, overrides DATA_DIR"},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir := c.String("data-dir"); dir != "" {
				cfg.DataDir = dir
				if os.Getenv("SCORING_CONFIG") == "" {
					cfg.ScoringConfigPath = filepath.Join(dir, "scoring.yaml")
				}
			}

			logger := monitoring.NewLoggerTo(errOut, monitoring.ParseLevel(cfg.LogLevel))
			slog.SetDefault(logger.Logger)

			rt, err = openRuntime(c.Context, cfg, logger)
			return err
		},
		After: func(*cli.Context) error {
			if rt != nil {
				rt.close()
				rt = nil
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "seed",
				Usage:     "import a YAML dataset of entities, interactions and rules",
				ArgsUsage: "FILE",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("%w: seed FILE", errUsage)
					}
					f, err := os.Open(c.Args().First())
					if err != nil {
						return err
					}
					defer f.Close()

					result, err := rt.importer.ImportYAML(c.Context, f)
					if err != nil {
						return err
					}
					return printJSON(c, result)
				},
			},
			{
				Name:      "calculate",
				Usage:     "calculate and store the health of one entity",
				ArgsUsage: "KIND ID",
				Action: func(c *cli.Context) error {
					kind, id, err := entityArgs(c)
					if err != nil {
						return err
					}
					score, err := rt.engine.CalculateHealth(c.Context, kind, id)
					if err != nil {
						return err
					}
					return printJSON(c, map[string]any{
						"calculated": score != nil,
						"kind":       kind,
						"id":         id,
						"score":      score,
					})
				},
			},
			{
				Name:  "calculate-all",
				Usage: "calculate every deal and relationship of an owner",
				Flags: []cli.Flag{ownerFlag()},
				Action: func(c *cli.Context) error {
					scores, err := rt.engine.CalculateAllHealth(c.Context, c.String("owner"))
					if err != nil {
						return err
					}
					return printJSON(c, map[string]any{"count": len(scores), "scores": scores})
				},
			},
			{
				Name:  "refresh",
				Usage: "recalculate scores that are missing or stale",
				Flags: []cli.Flag{
					ownerFlag(),
					&cli.DurationFlag{Name: "max-age", Usage: "staleness threshold, defaults to STALE_MAX_AGE_HOURS"},
					&cli.BoolFlag{Name: "force", Usage: "recalculate everything"},
				},
				Action: func(c *cli.Context) error {
					result, err := rt.engine.RefreshStale(c.Context, c.String("owner"), c.Duration("max-age"), c.Bool("force"))
					if err != nil {
						return err
					}
					return printJSON(c, result)
				},
			},
			{
				Name:  "triage",
				Usage: "list an owner's scores worst first",
				Flags: []cli.Flag{
					ownerFlag(),
					&cli.IntFlag{Name: "limit", Value: 20},
				},
				Action: func(c *cli.Context) error {
					ranking, err := rt.engine.Triage(c.Context, c.String("owner"), c.Int("limit"))
					if err != nil {
						return err
					}
					return printJSON(c, ranking)
				},
			},
			{
				Name:      "score",
				Usage:     "show the stored score of an entity",
				ArgsUsage: "KIND ID",
				Action: func(c *cli.Context) error {
					kind, id, err := entityArgs(c)
					if err != nil {
						return err
					}
					score, err := rt.engine.GetScore(c.Context, kind, id)
					if err != nil {
						return err
					}
					return printJSON(c, score)
				},
			},
			{
				Name:      "history",
				Usage:     "show score snapshots of an entity, newest first",
				ArgsUsage: "KIND ID",
				Flags:     []cli.Flag{&cli.IntFlag{Name: "limit", Value: 30}},
				Action: func(c *cli.Context) error {
					kind, id, err := entityArgs(c)
					if err != nil {
						return err
					}
					history, err := rt.engine.History(c.Context, kind, id, c.Int("limit"))
					if err != nil {
						return err
					}
					return printJSON(c, history)
				},
			},
			{
				Name:  "alerts",
				Usage: "list alerts and move them through their lifecycle",
				Subcommands: []*cli.Command{
					{
						Name: "list",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "owner"},
							&cli.StringFlag{Name: "entity"},
							&cli.StringFlag{Name: "status", Usage: "active, acknowledged, resolved or dismissed"},
							&cli.IntFlag{Name: "limit", Value: 100},
						},
						Action: func(c *cli.Context) error {
							filter := types.AlertFilter{
								OwnerID:  c.String("owner"),
								EntityID: c.String("entity"),
								Status:   types.AlertStatus(c.String("status")),
								Limit:    c.Int("limit"),
							}
							alerts, err := rt.alerts.ListAlerts(c.Context, filter)
							if err != nil {
								return err
							}
							if alerts == nil {
								alerts = []*types.HealthAlert{}
							}
							return printJSON(c, alerts)
						},
					},
					transitionCommand("ack", "acknowledge an active alert", func(ctx context.Context, id string) (bool, error) {
						return rt.engine.AcknowledgeAlert(ctx, id)
					}),
					transitionCommand("resolve", "resolve an open alert", func(ctx context.Context, id string) (bool, error) {
						return rt.engine.ResolveAlert(ctx, id)
					}),
					transitionCommand("dismiss", "dismiss an open alert", func(ctx context.Context, id string) (bool, error) {
						return rt.engine.DismissAlert(ctx, id)
					}),
				},
			},
			{
				Name:  "rules",
				Usage: "list an owner's alert rules",
				Flags: []cli.Flag{ownerFlag()},
				Action: func(c *cli.Context) error {
					rules, err := rt.alerts.ListRules(c.Context, c.String("owner"))
					if err != nil {
						return err
					}
					return printJSON(c, rules)
				},
			},
		},
	}
}

// transitionCommand reports a refused transition as an error so scripts
// can tell it apart from a change
func transitionCommand(name, usage string, op func(ctx context.Context, id string) (bool, error)) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "ALERT_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("%w: alerts %s ALERT_ID", errUsage, name)
			}
			id := c.Args().First()
			changed, err := op(c.Context, id)
			if err != nil {
				return err
			}
			if !changed {
				return fmt.Errorf("alert %s: %w", id, apperrors.ErrInvalidTransition)
			}
			return printJSON(c, map[string]any{"id": id, "changed": true})
		},
	}
}

func ownerFlag() cli.Flag {
	return &cli.StringFlag{Name: "owner", Usage: "owner id", Required: true}
}

func entityArgs(c *cli.Context) (types.EntityKind, string, error) {
	if c.NArg() != 2 {
		return "", "", fmt.Errorf("%w: %s KIND ID", errUsage, c.Command.Name)
	}
	kind, ok := types.ParseEntityKind(c.Args().Get(0))
	if !ok {
		return "", "", fmt.Errorf("%q: %w", c.Args().Get(0), apperrors.ErrInvalidKind)
	}
	return kind, c.Args().Get(1), nil
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
