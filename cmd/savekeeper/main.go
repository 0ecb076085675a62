package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"savekeeper/internal/app"
	"savekeeper/internal/config"
	"savekeeper/internal/keeper"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file from its default (or overridden) location.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	path := defaults["config_path"]
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, path, nil
}

// newApp reads the config and creates a wired App. The caller must defer
// a.Close(). onEvent may be nil.
func newApp(onEvent keeper.EventSink) (*app.App, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.New(cfg, onEvent)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "savekeeper",
	Short: "Continuous backup for game save directories",
}

// config command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Backup root: %s\n", cfg.BackupRoot)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Backup root: %s\n", cfg.BackupRoot)
		fmt.Printf("Log dir:     %s\n", cfg.LogDir)
		fmt.Printf("Catalog:     %s (%s)\n", cfg.Catalog.Type, cfg.Catalog.DataDir)
		fmt.Printf("Entities:    %d\n", len(cfg.Entities))
		return nil
	},
}

// entity command

var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Manage monitored entities",
}

var entityAddCmd = &cobra.Command{
	Use:   "add SOURCE_PATH",
	Short: "Register a save directory for protection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		retention, _ := cmd.Flags().GetInt("retention")
		compression, _ := cmd.Flags().GetString("compression")

		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		info, err := os.Stat(args[0])
		if err != nil {
			return fmt.Errorf("source path: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("source path is not a directory: %s", args[0])
		}

		entity := config.EntityConfig{
			ID:             uuid.New().String(),
			Name:           name,
			SourcePath:     args[0],
			RetentionLimit: retention,
			Compression:    compression,
			Enabled:        true,
		}
		// Validate eagerly so a broken entry never lands in the config file.
		if _, err := cfg.Profile(entity); err != nil {
			return err
		}

		cfg.Entities = append(cfg.Entities, entity)
		if err := config.WriteToFile(path, cfg); err != nil {
			return err
		}

		fmt.Printf("Registered entity %s\n", entity.ID)
		return nil
	},
}

var entityRemoveCmd = &cobra.Command{
	Use:   "remove ENTITY_ID",
	Short: "Unregister an entity (backups are kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		kept := cfg.Entities[:0]
		removed := false
		for _, e := range cfg.Entities {
			if e.ID == args[0] {
				removed = true
				continue
			}
			kept = append(kept, e)
		}
		if !removed {
			return fmt.Errorf("no entity with id %q", args[0])
		}

		cfg.Entities = kept
		if err := config.WriteToFile(path, cfg); err != nil {
			return err
		}

		fmt.Printf("Removed entity %s (snapshots under the backup root were not deleted)\n", args[0])
		return nil
	},
}

var entityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		if len(cfg.Entities) == 0 {
			fmt.Println("No entities registered.")
			return nil
		}

		for _, e := range cfg.Entities {
			state := "enabled"
			if !e.Enabled {
				state = "disabled"
			}
			name := e.Name
			if name == "" {
				name = "-"
			}
			fmt.Printf("%s  %-20s  %-8s  %s\n", e.ID, name, state, e.SourcePath)
		}
		return nil
	},
}

// watch command

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch all enabled entities until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(printEvent)
		if err != nil {
			return err
		}
		defer a.Close()

		a.StartAll()
		active := a.ActiveSessions()
		fmt.Printf("Watching %d entit%s. Press Ctrl-C to stop.\n", len(active), pluralY(len(active)))

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		fmt.Println("\nStopping...")
		a.StopAll()
		return nil
	},
}

// printEvent reports status changes to the terminal.
func printEvent(e keeper.Event) {
	switch e.Status {
	case keeper.StatusError:
		fmt.Printf("[%s] error: %v\n", e.EntityID, e.Err)
	case keeper.StatusBackingUp:
		fmt.Printf("[%s] backing up...\n", e.EntityID)
	case keeper.StatusRestoring:
		fmt.Printf("[%s] restoring...\n", e.EntityID)
	case keeper.StatusIdle:
		if !e.LastBackup.IsZero() {
			fmt.Printf("[%s] backup complete (%s)\n", e.EntityID, e.LastBackup.Format("15:04:05"))
		}
	}
}

// backup command

var backupCmd = &cobra.Command{
	Use:   "backup ENTITY_ID",
	Short: "Create a snapshot now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.Backup(args[0])
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("Snapshot %s created (%s)\n", snap.Stamp, formatSize(snap.SizeBytes))
		return nil
	},
}

// snapshots command

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots ENTITY_ID",
	Short: "List snapshots, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		snaps, err := a.Snapshots(args[0])
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}

		for _, s := range snaps {
			fmt.Printf("%s  %-9s  %10s  %s\n",
				s.Stamp,
				s.Kind,
				formatSize(s.SizeBytes),
				s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			)
		}

		total, err := a.TotalBackupSize(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("\n%d snapshot(s), %s total\n", len(snaps), formatSize(total))
		return nil
	},
}

// restore command

var restoreCmd = &cobra.Command{
	Use:   "restore ENTITY_ID SNAPSHOT",
	Short: "Replace the live save directory with a snapshot's contents",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		if !yes {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("refusing to restore without confirmation; pass --yes")
			}
			fmt.Printf("This replaces the live contents of entity %s with snapshot %s.\nType 'yes' to continue: ", args[0], args[1])
			reader := bufio.NewReader(os.Stdin)
			line, _ := reader.ReadString('\n')
			if strings.TrimSpace(line) != "yes" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		safetyStamp, err := a.Restore(args[0], args[1])
		if err != nil {
			if safetyStamp != "" {
				fmt.Printf("Pre-restore state was preserved as safety snapshot %s\n", safetyStamp)
			}
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Printf("Restored snapshot %s\n", args[1])
		fmt.Printf("Pre-restore state saved as safety snapshot %s\n", safetyStamp)
		return nil
	},
}

// prune command

var pruneCmd = &cobra.Command{
	Use:   "prune ENTITY_ID",
	Short: "Run a retention pass without creating a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Prune(args[0]); err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
		fmt.Println("Retention pass complete.")
		return nil
	},
}

// formatSize renders a byte count as a human-readable string.
func formatSize(n int64) string {
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if size < 1024.0 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024.0
	}
	return fmt.Sprintf("%.1f PB", size)
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	entityCmd.AddCommand(entityAddCmd)
	entityAddCmd.Flags().String("name", "", "Display name for the entity")
	entityAddCmd.Flags().Int("retention", 20, "Snapshots to keep")
	entityAddCmd.Flags().String("compression", "copy", "Snapshot format: copy or zip")
	entityCmd.AddCommand(entityRemoveCmd)
	entityCmd.AddCommand(entityListCmd)

	restoreCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(entityCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(pruneCmd)
}
