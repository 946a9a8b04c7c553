package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/identca/identca/internal/config"
	"github.com/identca/identca/internal/db"
	"github.com/identca/identca/internal/db/repository"
	"github.com/identca/identca/internal/models"
)

var (
	configPath string
	cfg        *config.Config
	database   *db.DB
)

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "identca administration tool",
	Long:  "Administrative tool for managing identity requests, issued certificates, and audit logs",
}

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Manage account requests",
}

var requestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List account requests",
	RunE:  listRequests,
}

var requestRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject an open account request",
	Args:  cobra.ExactArgs(1),
	RunE:  rejectRequest,
}

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Manage issued certificates",
}

var certListCmd = &cobra.Command{
	Use:   "list",
	Short: "List certificate records",
	RunE:  listCerts,
}

var certRevokeCmd = &cobra.Command{
	Use:   "revoke <serial>",
	Short: "Revoke a certificate",
	Args:  cobra.ExactArgs(1),
	RunE:  revokeCert,
}

var reservationsCmd = &cobra.Command{
	Use:   "reservations",
	Short: "Inspect and reconcile serial reservations",
}

var reservationsStaleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List reservations older than the grace period",
	RunE:  listStaleReservations,
}

var reservationsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark stale reservations abandoned",
	RunE:  sweepReservations,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List audit log entries",
	RunE:  listAudit,
}

var (
	statusFilter   string
	usernameFilter string
	actionFilter   string
	limit          int
	revokeReason   string
)

func init() {
	// Root flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/identca/config.yaml", "Config file path")

	requestListCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status")
	requestListCmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows to print")

	certListCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status")
	certListCmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows to print")

	certRevokeCmd.Flags().StringVar(&revokeReason, "reason", "unspecified", "Revocation reason")

	auditCmd.Flags().StringVar(&usernameFilter, "username", "", "Filter by username")
	auditCmd.Flags().StringVar(&actionFilter, "action", "", "Filter by action")
	auditCmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows to print")

	// Add commands
	requestCmd.AddCommand(requestListCmd)
	requestCmd.AddCommand(requestRejectCmd)
	certCmd.AddCommand(certListCmd)
	certCmd.AddCommand(certRevokeCmd)
	reservationsCmd.AddCommand(reservationsStaleCmd)
	reservationsCmd.AddCommand(reservationsSweepCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(certCmd)
	rootCmd.AddCommand(reservationsCmd)
	rootCmd.AddCommand(auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initDB() error {
	var err error
	cfg, err = config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err = db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	return nil
}

func listRequests(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	requestRepo := repository.NewRequestRepository(database.DB)
	requests, err := requestRepo.List(statusFilter, limit)
	if err != nil {
		return fmt.Errorf("failed to list requests: %w", err)
	}

	if len(requests) == 0 {
		fmt.Println("No requests found")
		return nil
	}

	fmt.Printf("%-36s %-20s %-30s %-13s %s\n", "ID", "Username", "Email", "Status", "Created")
	for _, req := range requests {
		fmt.Printf("%-36s %-20s %-30s %-13s %s\n",
			req.ID,
			req.Username,
			req.Email,
			req.Status,
			req.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}

	return nil
}

func rejectRequest(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	requestRepo := repository.NewRequestRepository(database.DB)
	if err := requestRepo.MarkRejected(args[0]); err != nil {
		return fmt.Errorf("failed to reject request: %w", err)
	}

	fmt.Printf("Request %s rejected\n", args[0])
	return nil
}

func listCerts(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	certRepo := repository.NewCertRepository(database.DB)
	records, err := certRepo.List(statusFilter, limit)
	if err != nil {
		return fmt.Errorf("failed to list certificates: %w", err)
	}

	printCertRecords(records)
	return nil
}

func revokeCert(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	certRepo := repository.NewCertRepository(database.DB)
	if err := certRepo.Revoke(args[0], revokeReason); err != nil {
		return fmt.Errorf("failed to revoke certificate: %w", err)
	}

	fmt.Printf("Certificate %s revoked (%s)\n", args[0], revokeReason)
	return nil
}

func listStaleReservations(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	certRepo := repository.NewCertRepository(database.DB)
	records, err := certRepo.ListStaleReservations(cfg.GetReservationGraceDuration())
	if err != nil {
		return fmt.Errorf("failed to list stale reservations: %w", err)
	}

	printCertRecords(records)
	return nil
}

func sweepReservations(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	certRepo := repository.NewCertRepository(database.DB)
	count, err := certRepo.SweepAbandoned(cfg.GetReservationGraceDuration())
	if err != nil {
		return fmt.Errorf("failed to sweep reservations: %w", err)
	}

	fmt.Printf("Marked %d reservations abandoned\n", count)
	return nil
}

func listAudit(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	auditRepo := repository.NewAuditRepository(database.DB)
	logs, err := auditRepo.List(usernameFilter, actionFilter, limit)
	if err != nil {
		return fmt.Errorf("failed to list audit logs: %w", err)
	}

	if len(logs) == 0 {
		fmt.Println("No audit entries found")
		return nil
	}

	fmt.Printf("%-20s %-16s %-20s %-8s %s\n", "Time", "Action", "Username", "Success", "Details")
	for _, entry := range logs {
		success := "no"
		if entry.Success {
			success = "yes"
		}
		details := entry.Details
		if !entry.Success && entry.ErrorMsg != "" {
			details = entry.ErrorMsg
		}
		fmt.Printf("%-20s %-16s %-20s %-8s %s\n",
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			entry.Action,
			entry.Username,
			success,
			details,
		)
	}

	return nil
}

func printCertRecords(records []*models.CertificateRecord) {
	if len(records) == 0 {
		fmt.Println("No certificate records found")
		return
	}

	fmt.Printf("%-40s %-20s %-10s %-20s %s\n", "Serial", "Username", "Status", "Not After", "Fingerprint")
	for _, rec := range records {
		notAfter := "-"
		if rec.NotAfter != nil {
			notAfter = rec.NotAfter.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-40s %-20s %-10s %-20s %s\n",
			rec.SerialNumber,
			rec.Username,
			rec.Status,
			notAfter,
			rec.Fingerprint,
		)
	}
}
