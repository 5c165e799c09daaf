package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vaultline/vaultline/pkg/client"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vlt",
	Short: "Vaultline CLI",
	Long: `vlt is the command-line interface for a Vaultline server.

It submits transactions, drives approval decisions, and audits the
hash-chained settlement ledger and its Merkle root.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.vlt")
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
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.vlt/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Vaultline server URL (default http://localhost:8080)")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(rootHashCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── send ─────────────────────────────────────────────────────────────────────

var sendMode string

var sendCmd = &cobra.Command{
	Use:   "send <sender> <receiver> <amount>",
	Short: "Queue a transfer for settlement",
	Long: `Send queues a transfer. With --mode standard the amount is sealed at
submission and re-verified at settlement; with --mode fast (the default) the
transaction settles automatically once it has been queued for the
server-configured delay.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(args[2])
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[2], err)
		}

		tx, err := client.New(serverURL).SubmitTransaction(context.Background(), args[0], args[1], amount, sendMode)
		if err != nil {
			return err
		}

		fmt.Printf("queued %s (%s)\n", tx.ID, tx.Mode)
		if tx.IntegrityHash != "" {
			fmt.Printf("integrity hash: %s\n", tx.IntegrityHash)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendMode, "mode", "fast", "Commitment mode: fast or standard")
}

// ── queue ────────────────────────────────────────────────────────────────────

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List pending transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, err := client.New(serverURL).Queue(context.Background())
		if err != nil {
			return err
		}
		if len(queue) == 0 {
			fmt.Println("queue empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSENDER\tRECEIVER\tAMOUNT\tMODE\tSUBMITTED")
		for _, tx := range queue {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				tx.ID, tx.Sender, tx.Receiver, tx.Amount.String(), tx.Mode, tx.SubmittedAt)
		}
		return w.Flush()
	},
}

// ── approve / reject ─────────────────────────────────────────────────────────

var (
	approveAmount   string
	approveApprover string
)

var approveCmd = &cobra.Command{
	Use:   "approve <transaction-id>",
	Short: "Settle a pending transaction",
	Long: `Approve settles a pending transaction into the ledger. --amount adjusts
the final settlement amount; the difference is retained by (or paid from)
the approver's account.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var finalAmount *decimal.Decimal
		if approveAmount != "" {
			amount, err := decimal.NewFromString(approveAmount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", approveAmount, err)
			}
			finalAmount = &amount
		}

		rec, err := client.New(serverURL).ApproveTransaction(context.Background(), args[0], approveApprover, finalAmount)
		if err != nil {
			return err
		}

		fmt.Printf("settled %s: final %s (adjustment %s)\n", rec.ID, rec.FinalAmount.String(), rec.Adjustment.String())
		fmt.Printf("record hash: %s\n", rec.Hash)
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <transaction-id>",
	Short: "Reject a pending transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.New(serverURL).RejectTransaction(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Println("rejected")
		return nil
	},
}

func init() {
	approveCmd.Flags().StringVar(&approveAmount, "amount", "", "Final settlement amount (default: original amount)")
	approveCmd.Flags().StringVar(&approveApprover, "approver", "", "Approving authority account id")
	_ = approveCmd.MarkFlagRequired("approver")
}

// ── ledger / root / verify ───────────────────────────────────────────────────

var ledgerFormat string

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show the settlement ledger and its Merkle root",
	RunE: func(cmd *cobra.Command, args []string) error {
		overview, err := client.New(serverURL).Ledger(context.Background())
		if err != nil {
			return err
		}

		if ledgerFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(overview)
		}

		fmt.Printf("records: %d\nmerkle root: %s\n\n", overview.Length, overview.MerkleRoot)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSENDER\tRECEIVER\tFINAL\tADJ\tSTATUS\tHASH")
		for _, r := range overview.Records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.16s…\n",
				r.ID, r.Sender, r.Receiver, r.FinalAmount.String(), r.Adjustment.String(), r.Status, r.Hash)
		}
		return w.Flush()
	},
}

var rootHashCmd = &cobra.Command{
	Use:   "root",
	Short: "Print the ledger's Merkle root",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := client.New(serverURL).MerkleRoot(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(root)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the full hash chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := client.New(serverURL).VerifyChain(context.Background())
		if err != nil {
			return err
		}
		if !result.Valid {
			if result.BrokenAt != nil {
				return fmt.Errorf("chain INVALID at record %d: %s", *result.BrokenAt, result.Error)
			}
			return fmt.Errorf("chain INVALID: %s", result.Error)
		}
		fmt.Printf("chain valid: %d records, merkle root %s\n", result.Length, result.MerkleRoot)
		return nil
	},
}

func init() {
	ledgerCmd.Flags().StringVar(&ledgerFormat, "format", "text", "Output format: text or json")
}

// ── balance / history ────────────────────────────────────────────────────────

var balanceCmd = &cobra.Command{
	Use:   "balance <account-id>",
	Short: "Show an account's balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		balance, err := client.New(serverURL).AccountBalance(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s): %s\n", balance.Name, balance.ID, balance.Balance.String())
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <account-id>",
	Short: "Show an account's settled transactions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		history, err := client.New(serverURL).AccountHistory(context.Background(), args[0])
		if err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Println("no settled transactions")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SUBMITTED\tSENDER\tRECEIVER\tORIGINAL\tFINAL\tSTATUS")
		for _, r := range history {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.SubmittedAt, r.Sender, r.Receiver, r.OriginalAmount.String(), r.FinalAmount.String(), r.Status)
		}
		return w.Flush()
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the vlt version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("vlt " + version)
	},
}
