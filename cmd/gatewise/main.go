package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tessera-sec/gatewise/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL   string
	adminSecret string
	cfgFile     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gatewise",
	Short: "Gatewise access decision CLI",
	Long: `gatewise is the command-line interface for the Gatewise access
decision engine.

It runs access checks, manages policies, trains the scoring model, and
inspects audit history on a running gatewised server.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.gatewise")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if adminSecret == "" {
			adminSecret = viper.GetString("admin_secret")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.gatewise/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "gatewised base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&adminSecret, "admin-secret", "", "admin secret for administrative commands")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(ruleCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an SDK client; admin=true authenticates first.
func newClient(ctx context.Context, admin bool) (*client.Client, error) {
	c := client.New(serverURL)
	if admin {
		if adminSecret == "" {
			return nil, fmt.Errorf("this command requires --admin-secret (or admin_secret in the config file)")
		}
		if err := c.Authenticate(ctx, adminSecret); err != nil {
			return nil, fmt.Errorf("authenticate: %w", err)
		}
	}
	return c, nil
}

// ── check ────────────────────────────────────────────────────────────────────

var (
	checkLocation string
	checkDevice   string
	checkVPN      bool
	checkFailed   int
	checkJSON     bool
)

var checkCmd = &cobra.Command{
	Use:   "check <subject> <data-type> <action>",
	Short: "Run an access check",
	Long: `Check asks the engine whether a subject may perform an action on a
data type. Context flags, when given, update the subject's stored context
before the check:

  gatewise check alice payroll read --location office --device laptop`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		c, err := newClient(ctx, false)
		if err != nil {
			return err
		}

		var update *client.Context
		if checkLocation != "" || checkDevice != "" || checkVPN || checkFailed > 0 {
			update = &client.Context{
				Location:       checkLocation,
				Device:         checkDevice,
				VPNEnabled:     checkVPN,
				FailedAttempts: checkFailed,
			}
		}

		v, err := c.CheckAccess(ctx, args[0], args[1], args[2], update)
		if err != nil {
			return err
		}

		if checkJSON {
			return printJSON(v)
		}

		outcome := "DENY"
		if v.Allowed {
			outcome = "ALLOW"
		}
		fmt.Printf("%s  risk=%.2f", outcome, v.RiskScore)
		if v.Confidence != nil {
			fmt.Printf("  confidence=%.2f", *v.Confidence)
		}
		if v.Reason != "" {
			fmt.Printf("  reason=%q", v.Reason)
		}
		if len(v.PolicyIDs) > 0 {
			fmt.Printf("  policies=%s", strings.Join(v.PolicyIDs, ","))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkLocation, "location", "", "Subject's current location")
	checkCmd.Flags().StringVar(&checkDevice, "device", "", "Subject's current device identifier")
	checkCmd.Flags().BoolVar(&checkVPN, "vpn", false, "Subject is on a VPN or anonymizing network")
	checkCmd.Flags().IntVar(&checkFailed, "failed-attempts", 0, "Recent failed attempt count")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the raw verdict as JSON")
}

// ── policy ───────────────────────────────────────────────────────────────────

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage policies",
}

var policyUpsertFile string

var policyUpsertCmd = &cobra.Command{
	Use:   "upsert <id> -f policy.json",
	Short: "Create or replace a policy from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(policyUpsertFile)
		if err != nil {
			return fmt.Errorf("read policy file: %w", err)
		}
		var upsert client.PolicyUpsert
		if err := json.Unmarshal(data, &upsert); err != nil {
			return fmt.Errorf("parse policy file: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		c, err := newClient(ctx, true)
		if err != nil {
			return err
		}
		p, err := c.UpsertPolicy(ctx, args[0], upsert)
		if err != nil {
			return err
		}
		fmt.Printf("policy %s stored at version %d\n", p.ID, p.Version)
		return nil
	},
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active policies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		c, err := newClient(ctx, true)
		if err != nil {
			return err
		}
		active, err := c.ActivePolicies(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tVERSION\tDATA TYPES\tACTIONS\tUPDATED")
		for id, p := range active {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
				id, p.Version,
				strings.Join(p.DataTypes, ","),
				strings.Join(p.Actions, ","),
				p.UpdatedAt.Format(time.RFC3339),
			)
		}
		return w.Flush()
	},
}

var policyDeactivateCmd = &cobra.Command{
	Use:   "deactivate <id>",
	Short: "Soft-disable a policy, preserving its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		c, err := newClient(ctx, true)
		if err != nil {
			return err
		}
		if err := c.DeactivatePolicy(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("policy %s deactivated\n", args[0])
		return nil
	},
}

func init() {
	policyUpsertCmd.Flags().StringVarP(&policyUpsertFile, "file", "f", "", "Path to the policy JSON file")
	_ = policyUpsertCmd.MarkFlagRequired("file")

	policyCmd.AddCommand(policyUpsertCmd)
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyDeactivateCmd)
}

// ── train ────────────────────────────────────────────────────────────────────

var trainFile string

var trainCmd = &cobra.Command{
	Use:   "train -f training.json",
	Short: "Retrain the scoring model from a labeled feature file",
	Long: `Train reads a JSON file of the form

  {"feature_sets": [{"risk_score": 0.2, ...}, ...], "labels": [1, 0, ...]}

and retrains the server's scoring model in place.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(trainFile)
		if err != nil {
			return fmt.Errorf("read training file: %w", err)
		}
		var payload struct {
			FeatureSets []map[string]float64 `json:"feature_sets"`
			Labels      []int                `json:"labels"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("parse training file: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		c, err := newClient(ctx, true)
		if err != nil {
			return err
		}
		if err := c.Train(ctx, payload.FeatureSets, payload.Labels); err != nil {
			return err
		}
		fmt.Printf("trained on %d samples\n", len(payload.FeatureSets))
		return nil
	},
}

func init() {
	trainCmd.Flags().StringVarP(&trainFile, "file", "f", "", "Path to the training JSON file")
	_ = trainCmd.MarkFlagRequired("file")
}

// ── rule ─────────────────────────────────────────────────────────────────────

var (
	ruleRisk       float64
	ruleConditions []string
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Generate candidate policy rules",
}

var ruleGenerateCmd = &cobra.Command{
	Use:   "generate <time_based|location_based|risk_based>",
	Short: "Generate a candidate rule from pattern data",
	Long: `Generate derives a candidate rule from observed pattern data using a
fixed template family. The rule is printed for review; it is never
activated automatically:

  gatewise rule generate location_based --risk 0.5 --cond location=office`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conds := make(map[string]string)
		for _, kv := range ruleConditions {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("invalid condition %q, want name=value", kv)
			}
			conds[parts[0]] = parts[1]
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		c, err := newClient(ctx, true)
		if err != nil {
			return err
		}

		var risk *float64
		if cmd.Flags().Changed("risk") {
			risk = &ruleRisk
		}
		rule, err := c.GenerateRule(ctx, args[0], risk, conds)
		if err != nil {
			return err
		}
		if rule == nil {
			fmt.Printf("no template for rule type %q\n", args[0])
			return nil
		}
		return printJSON(rule)
	},
}

func init() {
	ruleGenerateCmd.Flags().Float64Var(&ruleRisk, "risk", 0, "Observed risk score driving action escalation")
	ruleGenerateCmd.Flags().StringArrayVar(&ruleConditions, "cond", nil, "Condition as name=value (repeatable)")
	ruleCmd.AddCommand(ruleGenerateCmd)
}

// ── history ──────────────────────────────────────────────────────────────────

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <subject>",
	Short: "Show a subject's access history, most recent first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		c, err := newClient(ctx, true)
		if err != nil {
			return err
		}
		events, err := c.History(ctx, args[0], historyLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tDATA TYPE\tACTION\tRESULT")
		for _, ev := range events {
			result := "deny"
			if ev.Success {
				result = "allow"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				ev.Timestamp.Format(time.RFC3339), ev.DataType, ev.Action, result)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum number of events to fetch")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("gatewise " + version)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
