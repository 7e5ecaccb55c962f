package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/speech-corpus/internal/align"
	"github.com/franz/speech-corpus/internal/ingest"
	"github.com/franz/speech-corpus/internal/inference"
	"github.com/franz/speech-corpus/internal/storage"
	"github.com/franz/speech-corpus/internal/store"
	"github.com/franz/speech-corpus/internal/util"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure spc can operate correctly.

This command checks:
- External tools (ffmpeg for ingest, mfa for alignment)
- The inference server used by collect asr and enhance
- SQLite version and metrics database integrity
- The dataset storage and its metadata table
- Disk space and the artifacts directory

Missing optional tools produce warnings; problems that block every command
produce errors.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	util.InfoLog("=== SPC Doctor - System Diagnostics ===")
	util.InfoLog("")

	results := []checkResult{
		checkFFmpeg(ctx, &ingest.FFmpeg{}),
		checkMFA(ctx, &align.MFA{Binary: cfg.MFABinary}),
		checkInference(ctx, inference.NewClient(cfg.TritonURL, 5*time.Second), cfg.TritonURL),
		checkSQLite(),
	}
	if cfg.DBDriver == store.DriverMySQL {
		results = append(results, checkMySQL(ctx, cfg.DBDSN))
	} else {
		results = append(results, checkDatabase(ctx, cfg.DB))
	}
	if cfg.Dataset != "" || cfg.Storage == "s3" {
		st, err := cfg.datasetStorage(ctx)
		if err != nil {
			results = append(results, checkResult{name: "Dataset", error: true, message: err.Error()})
		} else {
			results = append(results, checkDataset(ctx, st, cfg.Metadata))
		}
	}
	results = append(results, checkArtifacts(cfg.Artifacts))
	if cfg.Storage != "s3" && cfg.Dataset != "" {
		results = append(results, checkDiskSpace(cfg.Dataset, "dataset"))
	}

	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false
	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		switch {
		case r.error:
			util.ErrorLog("%s", line)
		case r.warning:
			util.WarnLog("%s", line)
		default:
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("Some critical checks failed. Please resolve errors before running spc.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("All checks passed! System is ready for spc operations.")
	}
	return nil
}

// checkFFmpeg verifies ffmpeg is available (needed to ingest non-WAV audio)
func checkFFmpeg(ctx context.Context, ff *ingest.FFmpeg) checkResult {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	version, err := ff.Version(ctx)
	if err != nil {
		return checkResult{
			name:    "ffmpeg (optional)",
			warning: true,
			message: "not found (required only to ingest non-WAV audio)",
		}
	}
	// "ffmpeg version 6.1.1 Copyright ..."
	parts := strings.Fields(version)
	if len(parts) >= 3 {
		version = parts[2]
	}
	return checkResult{name: "ffmpeg (optional)", message: fmt.Sprintf("version %s", version)}
}

// checkMFA verifies the aligner is available
func checkMFA(ctx context.Context, mfa *align.MFA) checkResult {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if !mfa.Available() {
		return checkResult{
			name:    "mfa (optional)",
			warning: true,
			message: "not found (required only for collect align)",
		}
	}
	version, err := mfa.Version(ctx)
	if err != nil {
		return checkResult{name: "mfa (optional)", warning: true, message: err.Error()}
	}
	return checkResult{name: "mfa (optional)", message: fmt.Sprintf("version %s", version)}
}

// checkInference verifies the inference server reports ready
func checkInference(ctx context.Context, client *inference.Client, url string) checkResult {
	if err := client.Ready(ctx); err != nil {
		return checkResult{
			name:    "Inference server (optional)",
			warning: true,
			message: fmt.Sprintf("%s not ready (required for collect asr and enhance): %v", url, err),
		}
	}
	return checkResult{name: "Inference server (optional)", message: fmt.Sprintf("%s ready", url)}
}

// checkSQLite verifies SQLite version
func checkSQLite() checkResult {
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{name: "SQLite", error: true, message: "unable to determine version"}
	}
	return checkResult{name: "SQLite", message: fmt.Sprintf("version %s (built-in)", version)}
}

// checkDatabase verifies the sqlite metrics database
func checkDatabase(ctx context.Context, dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{
			name:    "Database",
			warning: true,
			message: "no database path specified (use --db flag or config)",
		}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{name: "Database", message: fmt.Sprintf("%s (will be created on first run)", dbPath)}
		}
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("cannot access %s: %v", dbPath, err)}
	}
	if !info.Mode().IsRegular() {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("%s is not a regular file", dbPath)}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("cannot open %s: %v", dbPath, err)}
	}
	defer db.Close()
	return describeStore(ctx, db, fmt.Sprintf("%s (%s", dbPath, util.FormatBytes(info.Size())))
}

func checkMySQL(ctx context.Context, dsn string) checkResult {
	if dsn == "" {
		return checkResult{name: "Database", error: true, message: "mysql driver selected but no --db-dsn given"}
	}
	db, err := store.OpenWithOptions(ctx, &store.OpenOptions{Driver: store.DriverMySQL, DSN: dsn})
	if err != nil {
		return checkResult{name: "Database", error: true, message: err.Error()}
	}
	defer db.Close()
	return describeStore(ctx, db, "mysql (")
}

func describeStore(ctx context.Context, db *store.Store, prefix string) checkResult {
	if err := db.CheckIntegrity(ctx); err != nil {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("integrity check failed: %v", err)}
	}
	version, _ := db.SchemaVersion(ctx)
	counts, err := db.CountRows(ctx)
	if err != nil {
		return checkResult{name: "Database", error: true, message: err.Error()}
	}
	return checkResult{
		name: "Database",
		message: fmt.Sprintf("%s, schema v%d, %s recordings, %s memberships)", prefix, version,
			util.FormatCount(counts[store.TableAudioMetrics]), util.FormatCount(counts[store.TableMembership])),
	}
}

// checkDataset verifies the dataset storage holds a metadata table
func checkDataset(ctx context.Context, st storage.Storage, name string) checkResult {
	ok, err := st.Exists(ctx, name)
	if err != nil {
		return checkResult{name: "Dataset", error: true, message: fmt.Sprintf("cannot access %s: %v", st.Resolve(name), err)}
	}
	if !ok {
		return checkResult{name: "Dataset", warning: true, message: fmt.Sprintf("%s not found (run spc ingest)", st.Resolve(name))}
	}
	return checkResult{name: "Dataset", message: fmt.Sprintf("%s (%s)", st.Resolve(name), st.Name())}
}

// checkArtifacts verifies the event log directory is writable
func checkArtifacts(dir string) checkResult {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return checkResult{name: "Artifacts directory", error: true, message: fmt.Sprintf("cannot create %s: %v", dir, err)}
	}
	testFile := filepath.Join(dir, ".spc_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{name: "Artifacts directory", error: true, message: fmt.Sprintf("cannot write to %s: %v", dir, err)}
	}
	f.Close()
	os.Remove(testFile)
	return checkResult{name: "Artifacts directory", message: fmt.Sprintf("%s (writable)", dir)}
}

// checkDiskSpace verifies available disk space
func checkDiskSpace(path string, label string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    fmt.Sprintf("Disk space (%s)", label),
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	totalBytes := stat.Blocks * uint64(stat.Bsize)
	usedBytes := totalBytes - (stat.Bfree * uint64(stat.Bsize))
	usedPercent := float64(usedBytes) / float64(totalBytes) * 100

	warning := false
	warningMsg := ""
	if availBytes < 10<<30 {
		warning = true
		warningMsg = " (low space!)"
	} else if usedPercent > 90 {
		warning = true
		warningMsg = " (>90% used)"
	}

	return checkResult{
		name:    fmt.Sprintf("Disk space (%s)", label),
		warning: warning,
		message: fmt.Sprintf("%s available%s", util.FormatBytes(int64(availBytes)), warningMsg),
	}
}
