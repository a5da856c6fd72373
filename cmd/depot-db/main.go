// Depot Dispatch Database CLI
// Read-only inspection of the dispatch client's local SQLite store
package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/agsys/depot-dispatch/internal/storage"
)

var (
	dbPath  string
	rootCmd = &cobra.Command{
		Use:   "depot-db",
		Short: "Depot Dispatch Database CLI",
		Long:  "Command-line tool for inspecting the local store of the depot dispatch client.",
	}

	slotsCmd = &cobra.Command{
		Use:   "slots",
		Short: "List session slots",
		RunE:  listSlots,
	}

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Show the cached state snapshot",
		RunE:  showCache,
	}

	scansCmd = &cobra.Command{
		Use:   "scans [worker]",
		Short: "Show the scan journal",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showScans,
	}

	progressCmd = &cobra.Command{
		Use:   "progress",
		Short: "Show the highest stop index seen per route",
		RunE:  showProgress,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE:  showStats,
	}

	queryCmd = &cobra.Command{
		Use:   "query [sql]",
		Short: "Execute a raw SQL query",
		Args:  cobra.ExactArgs(1),
		RunE:  executeQuery,
	}

	limit    int
	showRaw  bool
	outcome  string
	revealed bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "depot-dispatch.db", "Database file path")

	slotsCmd.Flags().BoolVar(&revealed, "values", false, "Show slot values (cookies included)")
	cacheCmd.Flags().BoolVar(&showRaw, "raw", false, "Print the cached JSON payload")
	scansCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")
	scansCmd.Flags().StringVar(&outcome, "outcome", "", "Only show scans with this outcome")

	rootCmd.AddCommand(slotsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(scansCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(queryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB() (*sql.DB, error) {
	return sql.Open("sqlite3", dbPath+"?mode=ro")
}

func listSlots(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query("SELECT key, value, updated_at FROM session_slots ORDER BY key")
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE\tUPDATED")
	fmt.Fprintln(w, "---\t-----\t-------")

	for rows.Next() {
		var key, value string
		var updated time.Time
		if err := rows.Scan(&key, &value, &updated); err != nil {
			return err
		}
		if !revealed {
			value = fmt.Sprintf("(%d bytes)", len(value))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", key, truncate(value, 60), updated.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	return rows.Err()
}

func showCache(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	var payload []byte
	var serverTime sql.NullString
	var fetchedAt time.Time
	err = db.QueryRow("SELECT payload, server_time, fetched_at FROM state_cache WHERE id = 1").
		Scan(&payload, &serverTime, &fetchedAt)
	if err == sql.ErrNoRows {
		fmt.Println("No cached snapshot")
		return nil
	}
	if err != nil {
		return err
	}

	if showRaw {
		_, err := os.Stdout.Write(payload)
		fmt.Println()
		return err
	}

	var counts map[string]json.RawMessage
	if err := json.Unmarshal(payload, &counts); err != nil {
		return fmt.Errorf("cached payload is not valid JSON: %w", err)
	}

	fmt.Printf("Fetched:     %s (%s ago)\n", fetchedAt.Format("2006-01-02 15:04:05"), time.Since(fetchedAt).Round(time.Second))
	fmt.Printf("Server time: %s\n", nullString(serverTime))
	fmt.Printf("Size:        %d bytes\n", len(payload))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nSECTION\tENTRIES")
	for _, key := range []string{"centers", "tanks", "trucks", "routes", "route_history", "alerts", "delivery_log", "urgent_centers", "workers"} {
		var items []json.RawMessage
		if raw, ok := counts[key]; ok {
			_ = json.Unmarshal(raw, &items)
		}
		fmt.Fprintf(w, "%s\t%d\n", key, len(items))
	}
	w.Flush()
	return nil
}

func showScans(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	query := "SELECT created_at, kind, worker, route_id, outcome, detail, raw FROM scan_journal WHERE 1=1"
	var params []interface{}
	if len(args) > 0 {
		query += " AND worker = ?"
		params = append(params, args[0])
	}
	if outcome != "" {
		query += " AND outcome = ?"
		params = append(params, outcome)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	params = append(params, limit)

	rows, err := db.Query(query, params...)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tWORKER\tROUTE\tOUTCOME\tDETAIL\tRAW")
	fmt.Fprintln(w, "----\t----\t------\t-----\t-------\t------\t---")

	for rows.Next() {
		var created time.Time
		var kind, worker, routeID, detail sql.NullString
		var result, raw string
		if err := rows.Scan(&created, &kind, &worker, &routeID, &result, &detail, &raw); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			created.Format("2006-01-02 15:04:05"),
			nullString(kind), nullString(worker), nullString(routeID),
			strings.ToUpper(result), truncate(nullString(detail), 40), truncate(raw, 50))
	}
	w.Flush()
	return rows.Err()
}

func showProgress(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query("SELECT route_id, stop_idx, status, updated_at FROM route_progress ORDER BY updated_at DESC")
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROUTE\tSTOP\tSTATUS\tUPDATED")
	fmt.Fprintln(w, "-----\t----\t------\t-------")

	for rows.Next() {
		var routeID, status string
		var stopIdx int
		var updated time.Time
		if err := rows.Scan(&routeID, &stopIdx, &status, &updated); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", routeID, stopIdx, status, updated.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	return rows.Err()
}

func showStats(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Database Statistics")
	fmt.Println("===================")

	var slotCount int
	db.QueryRow("SELECT COUNT(*) FROM session_slots").Scan(&slotCount)
	fmt.Printf("Session slots: %d\n", slotCount)

	var cached int
	db.QueryRow("SELECT COUNT(*) FROM state_cache").Scan(&cached)
	fmt.Printf("Cached snapshot: %v\n", cached > 0)

	var scanCount int
	db.QueryRow("SELECT COUNT(*) FROM scan_journal").Scan(&scanCount)
	fmt.Printf("Scans: %d\n", scanCount)

	rows, err := db.Query("SELECT outcome, COUNT(*) FROM scan_journal GROUP BY outcome ORDER BY outcome")
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var result string
			var n int
			if rows.Scan(&result, &n) == nil {
				fmt.Printf("  %s: %d\n", result, n)
			}
		}
	}

	var progressCount int
	db.QueryRow("SELECT COUNT(*) FROM route_progress").Scan(&progressCount)
	fmt.Printf("Tracked routes: %d\n", progressCount)

	return nil
}

func executeQuery(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	cols, rows, err := storage.QueryTable(cmd.Context(), db, args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	fmt.Fprintln(w, strings.Repeat("-\t", len(cols)))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func nullString(s sql.NullString) string {
	if s.Valid && s.String != "" {
		return s.String
	}
	return "-"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
