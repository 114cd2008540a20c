package main

import (
	"fmt"
	"os"

	"pdfbot/internal/app"
	"pdfbot/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config, applies env overrides, and creates an App.
// The caller must defer app.Close(). operation identifies the CLI command
// being run (e.g. "Upload", "Merge").
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	a, err := app.New(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var userID int64

var rootCmd = &cobra.Command{
	Use:   "pdfbot",
	Short: "Per-user PDF working sets: upload, merge, extract, render, compress",
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
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Println("Set bot_token (or BOT_TOKEN) and allowed_users before serving traffic.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Max File MB:  %d\n", cfg.MaxFileMB)
		fmt.Printf("Session TTL:  %s\n", cfg.SessionTTL())
		fmt.Printf("Reap every:   %s\n", cfg.ReapInterval())
		fmt.Printf("Allowed users: %d configured\n", len(cfg.AllowedUsers))
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Add a PDF to the user's working set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Upload")
		if err != nil {
			return err
		}
		defer a.Close()

		ref, err := a.Upload(userID, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Saved: %s (%.1f MB)\n", ref.Filename, float64(ref.SizeBytes)/(1024*1024))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the user's working set in upload order",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("List")
		if err != nil {
			return err
		}
		defer a.Close()

		refs, err := a.Service().List(userID)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			fmt.Println("No PDFs uploaded yet.")
			return nil
		}
		for i, ref := range refs {
			fmt.Printf("%d) %s (%.1f MB)\n", i+1, ref.Filename, float64(ref.SizeBytes)/(1024*1024))
		}
		return nil
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge every file in the set, in upload order",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Merge")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Service().Merge(userID)
		if err != nil {
			return err
		}
		fmt.Printf("Merged %d files into %s\n", result.InputCount, result.OutputPath)
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract FILE RANGES",
	Short: "Extract pages (e.g. 2-4,7,9-) from one file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Extract")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Service().Extract(userID, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Extract result:\n")
		fmt.Printf("- Source: %s\n", result.Source)
		fmt.Printf("- Total pages: %d\n", result.TotalPages)
		fmt.Printf("- Resolved pages (%d): %s\n", len(result.Pages), result.Compact)
		fmt.Printf("- Output: %s\n", result.OutputPath)
		return nil
	},
}

var imagesCmd = &cobra.Command{
	Use:   "images FILE",
	Short: "Render one file to PNG images, one per page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dpi, _ := cmd.Flags().GetInt("dpi")

		a, err := newApp("Images")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Service().Images(userID, args[0], dpi)
		if err != nil {
			return err
		}
		if result.ZipPath != "" {
			fmt.Printf("Rendered %d pages at %d dpi (zipped): %s\n", result.Pages, result.DPI, result.ZipPath)
			return nil
		}
		fmt.Printf("Rendered %d pages at %d dpi:\n", result.Pages, result.DPI)
		for _, p := range result.ImagePaths {
			fmt.Println(p)
		}
		return nil
	},
}

var compressCmd = &cobra.Command{
	Use:   "compress FILE PRESET",
	Short: "Compress one file (preset: screen|ebook|printer|prepress)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Compress")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Service().Compress(userID, args[0], args[1])
		if err != nil {
			return err
		}
		ratio := 1.0
		if result.BytesBefore > 0 {
			ratio = float64(result.BytesAfter) / float64(result.BytesBefore)
		}
		fmt.Printf("Compressed (%s). Size: %.1fMB -> %.1fMB (%.2fx): %s\n",
			result.Preset,
			float64(result.BytesBefore)/1e6,
			float64(result.BytesAfter)/1e6,
			ratio,
			result.OutputPath,
		)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every file in the user's working set",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Clear")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().Clear(userID); err != nil {
			return err
		}
		fmt.Println("Cleared session files.")
		return nil
	},
}

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run one TTL sweep, expiring idle sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Reap")
		if err != nil {
			return err
		}
		defer a.Close()

		n := a.Reaper().Sweep()
		fmt.Printf("Expired %d session(s)\n", n)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)

	for _, c := range []*cobra.Command{uploadCmd, listCmd, mergeCmd, extractCmd, imagesCmd, compressCmd, clearCmd} {
		c.Flags().Int64Var(&userID, "user", 0, "user id the operation acts on")
		c.MarkFlagRequired("user")
		rootCmd.AddCommand(c)
	}
	imagesCmd.Flags().Int("dpi", 0, "render resolution, 72..400 (default 150)")
	rootCmd.AddCommand(reapCmd)
}
