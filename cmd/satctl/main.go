package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/satring/satring/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	directoryURL string
	cfgFile      string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "satctl",
	Short: "satring directory CLI",
	Long: `satctl is the command-line interface for the satring directory.

It browses paid-API listings, submits new ones through the L402 payment
flow, and manages listings with domain edit tokens.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.satctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if directoryURL == "" {
			directoryURL = viper.GetString("directory_url")
		}
		if directoryURL == "" {
			directoryURL = "https://satring.com"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.satctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&directoryURL, "directory", "", "directory URL (default https://satring.com)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(versionCmd)
}

func sdk() *client.Client {
	return client.New(directoryURL)
}

func printServices(services []client.Service) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tNAME\tPRICE (sats)\tRATING\tSTATUS")
	for _, s := range services {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f (%d)\t%s\n",
			s.Slug, s.Name, s.PricingSats, s.AvgRating, s.RatingCount, s.Status)
	}
	w.Flush()
}

// ── list ─────────────────────────────────────────────────────────────────────

var (
	listCategory string
	listSort     string
	listPage     int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List directory services",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		page, err := sdk().ListServices(ctx, client.ListOptions{
			Category: listCategory,
			Sort:     listSort,
			Page:     listPage,
		})
		if err != nil {
			return err
		}
		printServices(page.Services)
		fmt.Printf("\n%d of %d services (page %d)\n", len(page.Services), page.Total, page.Page)
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listCategory, "category", "", "filter by category slug")
	listCmd.Flags().StringVar(&listSort, "sort", "", "sort: top-rated | cheapest | most-reviewed")
	listCmd.Flags().IntVar(&listPage, "page", 1, "page number")
}

// ── get ──────────────────────────────────────────────────────────────────────

var getCmd = &cobra.Command{
	Use:   "get <slug>",
	Short: "Show one service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		svc, err := sdk().GetService(ctx, args[0])
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(svc, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

// ── search ───────────────────────────────────────────────────────────────────

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search services by name or description",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		page, err := sdk().Search(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		printServices(page.Services)
		return nil
	},
}

// ── submit ───────────────────────────────────────────────────────────────────

var (
	submitURL         string
	submitDescription string
	submitPriceSats   int64
	submitPreimage    string
	submitMacaroon    string
	submitEditToken   string
)

var submitCmd = &cobra.Command{
	Use:   "submit <name>",
	Short: "Submit a service listing (L402 payment flow)",
	Long: `Submit a new listing. Without payment the directory answers with a
Lightning invoice and a macaroon:

  satctl submit "Echo API" --url https://echo.example.com

Pay the invoice with any Lightning wallet, note the preimage, then complete
the submission:

  satctl submit "Echo API" --url https://echo.example.com \
      --macaroon <macaroon> --preimage <preimage>`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		req := client.SubmitRequest{
			Name:              args[0],
			URL:               submitURL,
			Description:       submitDescription,
			PricingSats:       submitPriceSats,
			ExistingEditToken: submitEditToken,
		}

		c := sdk()
		if submitMacaroon != "" && submitPreimage != "" {
			res, err := c.SubmitPaid(ctx, req,
				&client.PaymentChallenge{Macaroon: submitMacaroon}, submitPreimage)
			if err != nil {
				return err
			}
			fmt.Printf("created: %s\n", res.Service.Slug)
			if res.EditToken != "" {
				fmt.Printf("\nedit token (store it, shown only once):\n  %s\n", res.EditToken)
			}
			return nil
		}

		res, challenge, err := c.Submit(ctx, req)
		if err != nil {
			return err
		}
		if challenge == nil {
			// Directory runs without payment gating.
			fmt.Printf("created: %s\n", res.Service.Slug)
			if res.EditToken != "" {
				fmt.Printf("\nedit token (store it, shown only once):\n  %s\n", res.EditToken)
			}
			return nil
		}

		fmt.Printf("payment required: %d sats\n\ninvoice:\n  %s\n\nmacaroon:\n  %s\n",
			challenge.AmountSats, challenge.Invoice, challenge.Macaroon)
		fmt.Printf("\npay the invoice, then rerun with --macaroon and --preimage\n")
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitURL, "url", "", "service base URL (required)")
	submitCmd.Flags().StringVar(&submitDescription, "description", "", "service description")
	submitCmd.Flags().Int64Var(&submitPriceSats, "price-sats", 0, "price per call in sats")
	submitCmd.Flags().StringVar(&submitMacaroon, "macaroon", "", "macaroon from a previous 402 challenge")
	submitCmd.Flags().StringVar(&submitPreimage, "preimage", "", "payment preimage (hex)")
	submitCmd.Flags().StringVar(&submitEditToken, "edit-token", "", "existing edit token for the same domain")
	submitCmd.MarkFlagRequired("url") //nolint:errcheck
}

// ── edit ─────────────────────────────────────────────────────────────────────

var (
	editToken       string
	editName        string
	editDescription string
)

var editCmd = &cobra.Command{
	Use:   "edit <slug>",
	Short: "Edit a listing with its domain edit token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		fields := map[string]any{}
		if editName != "" {
			fields["name"] = editName
		}
		if editDescription != "" {
			fields["description"] = editDescription
		}
		if len(fields) == 0 {
			return fmt.Errorf("nothing to edit: pass --name or --description")
		}

		svc, err := sdk().EditService(ctx, args[0], editToken, fields)
		if err != nil {
			return err
		}
		fmt.Printf("updated: %s\n", svc.Slug)
		return nil
	},
}

func init() {
	editCmd.Flags().StringVar(&editToken, "token", "", "domain edit token (required)")
	editCmd.Flags().StringVar(&editName, "name", "", "new display name")
	editCmd.Flags().StringVar(&editDescription, "description", "", "new description")
	editCmd.MarkFlagRequired("token") //nolint:errcheck
}

// ── recover ──────────────────────────────────────────────────────────────────

var recoverCmd = &cobra.Command{
	Use:   "recover <slug>",
	Short: "Recover a lost edit token via domain ownership proof",
}

var recoverGenerateCmd = &cobra.Command{
	Use:   "generate <slug>",
	Short: "Generate the domain verification code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		ch, err := sdk().StartRecovery(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("publish this code as the plain-text body of:\n  %s\n\ncode:\n  %s\n\nexpires: %s\n",
			ch.PublishAt, ch.Code, ch.ExpiresAt.Format(time.RFC3339))
		fmt.Printf("\nthen run: satctl recover verify %s\n", args[0])
		return nil
	},
}

var recoverVerifyCmd = &cobra.Command{
	Use:   "verify <slug>",
	Short: "Verify the published code and mint a replacement token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		res, err := sdk().VerifyRecovery(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("domain %s verified, token covers %d listing(s)\n", res.Domain, res.Services)
		fmt.Printf("\nnew edit token (store it, shown only once):\n  %s\n", res.EditToken)
		return nil
	},
}

func init() {
	recoverCmd.AddCommand(recoverGenerateCmd)
	recoverCmd.AddCommand(recoverVerifyCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the satctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("satctl", version)
	},
}
