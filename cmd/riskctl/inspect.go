package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/riskgate/internal/disagree"
	"github.com/danielpatrickdp/riskgate/internal/modelstore"
)

// #region open-store

// openStore opens the registry named by --db or the configured db_path.
func openStore(cmd *cobra.Command) (*modelstore.Store, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		dbPath = cfg.DBPath
	}
	return modelstore.NewStore(dbPath)
}

// #endregion open-store

// #region inspect

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List head versions or show one",
		Example: `
riskctl inspect --last 10
riskctl inspect --version 6f1c... --bundle
riskctl inspect --json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			last, _ := cmd.Flags().GetInt("last")
			version, _ := cmd.Flags().GetString("version")
			showBundle, _ := cmd.Flags().GetBool("bundle")
			asJSON, _ := cmd.Flags().GetBool("json")

			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if version != "" {
				return runDetailMode(out, store, version, showBundle, asJSON)
			}
			return runListMode(out, store, last, asJSON)
		},
	}
	cmd.Flags().String("db", "", "Registry database (default: db_path)")
	cmd.Flags().IntP("last", "n", 20, "Show N most recent versions")
	cmd.Flags().String("version", "", "Show single version detail")
	cmd.Flags().Bool("bundle", false, "With --version, print the stored bundle")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON instead of table")
	return cmd
}

// #endregion inspect

// #region list-mode

type listRow struct {
	VersionID   string  `json:"version_id"`
	ParentID    string  `json:"parent_id,omitempty"`
	Threshold   float64 `json:"threshold"`
	Active      bool    `json:"active"`
	Decisions   int     `json:"decisions"`
	ArtifactURI string  `json:"artifact_uri,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func runListMode(out io.Writer, store *modelstore.Store, last int, asJSON bool) error {
	versions, err := store.ListVersions(last)
	if err != nil {
		return err
	}

	rows := make([]listRow, len(versions))
	for i, v := range versions {
		rows[i] = listRow{
			VersionID:   v.VersionID,
			ParentID:    v.ParentID,
			Threshold:   v.Threshold,
			Active:      v.Active,
			Decisions:   v.Decisions,
			ArtifactURI: v.ArtifactURI,
			CreatedAt:   v.CreatedAt.Format(time.RFC3339),
		}
	}
	if asJSON {
		return printJSON(out, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "no versions found")
		return nil
	}

	fmt.Fprintf(out, "%-36s  %-6s  %9s  %9s  %-20s  %s\n", "VERSION", "ACTIVE", "THRESHOLD", "DECISIONS", "CREATED", "ARTIFACT")
	for _, r := range rows {
		active := ""
		if r.Active {
			active = "*"
		}
		fmt.Fprintf(out, "%-36s  %-6s  %9.3f  %9d  %-20s  %s\n", r.VersionID, active, r.Threshold, r.Decisions, r.CreatedAt, r.ArtifactURI)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOut struct {
	VersionID   string             `json:"version_id"`
	ParentID    string             `json:"parent_id,omitempty"`
	CreatedAt   string             `json:"created_at"`
	Threshold   float64            `json:"threshold"`
	Weights     map[string]float64 `json:"weights"`
	Intercept   float64            `json:"intercept"`
	ArtifactURI string             `json:"artifact_uri,omitempty"`
	Metrics     json.RawMessage    `json:"metrics,omitempty"`
	Bundle      json.RawMessage    `json:"bundle,omitempty"`
}

func runDetailMode(out io.Writer, store *modelstore.Store, versionID string, showBundle, asJSON bool) error {
	hv, err := store.GetVersion(versionID)
	if err != nil {
		return err
	}

	d := detailOut{
		VersionID:   hv.VersionID,
		ParentID:    hv.ParentID,
		CreatedAt:   hv.CreatedAt.Format(time.RFC3339Nano),
		Threshold:   hv.Threshold,
		Weights:     map[string]float64{},
		ArtifactURI: hv.ArtifactURI,
	}
	for i, name := range disagree.FeatureOrder {
		if i < len(hv.Weights) {
			d.Weights[name] = hv.Weights[i]
		}
	}
	if n := len(hv.Weights); n > len(disagree.FeatureOrder) {
		d.Intercept = hv.Weights[n-1]
	}
	if hv.MetricsJSON != "" && json.Valid([]byte(hv.MetricsJSON)) {
		d.Metrics = json.RawMessage(hv.MetricsJSON)
	}
	if showBundle {
		d.Bundle = json.RawMessage(hv.Bundle)
	}

	if asJSON {
		return printJSON(out, d)
	}

	fmt.Fprintf(out, "Version:    %s\n", d.VersionID)
	fmt.Fprintf(out, "Parent:     %s\n", d.ParentID)
	fmt.Fprintf(out, "Created:    %s\n", d.CreatedAt)
	fmt.Fprintf(out, "Threshold:  %.4f\n", d.Threshold)
	fmt.Fprintf(out, "Artifact:   %s\n", d.ArtifactURI)
	fmt.Fprintf(out, "\nWeights:\n")
	for _, name := range disagree.FeatureOrder {
		fmt.Fprintf(out, "  %-12s %+.6f\n", name, d.Weights[name])
	}
	fmt.Fprintf(out, "  %-12s %+.6f\n", "intercept", d.Intercept)
	if d.Metrics != nil {
		fmt.Fprintf(out, "\nMetrics:    %s\n", d.Metrics)
	}
	if showBundle {
		fmt.Fprintf(out, "\nBundle:\n%s\n", hv.Bundle)
	}
	return nil
}

// #endregion detail-mode

// #region rollback

func newRollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <version-id>",
		Short: "Make an earlier head version active",
		Long:  "Point the registry's active head at an existing version. Running services pick it up on restart.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Rollback(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Active head: %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().String("db", "", "Registry database (default: db_path)")
	return cmd
}

// #endregion rollback

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
