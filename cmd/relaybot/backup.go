package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
	"relaybot/internal/store"
)

const (
	archiveDBName     = "relay.db"
	archiveConfigName = "config.json"
	archivePersona    = "persona.yaml"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of Relaybot data (database, config, persona)",
		Long: `Creates a compressed .tar.gz archive containing a consistent snapshot of
the SQLite database, the configuration file and the persona file if one is
configured. The backup is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, _, err := config.LoadOrDefaults(cfgPath)
			if err != nil {
				return err
			}

			if outputPath == "" {
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(config.DefaultConfigDir(), "backups", fmt.Sprintf("relaybot-backup-%s.tar.gz", ts))
			}
			if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
				return fmt.Errorf("cannot create backup directory: %w", err)
			}

			tmpDir, err := os.MkdirTemp("", "relaybot-backup-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(tmpDir)

			entries := map[string]string{}

			if _, err := os.Stat(cfg.Store.DBPath); err == nil {
				st, err := store.NewSQLiteStore(cfg.Store.DBPath, store.Options{Logger: logger})
				if err != nil {
					return err
				}
				snap := filepath.Join(tmpDir, archiveDBName)
				err = st.BackupTo(context.Background(), snap)
				st.Close()
				if err != nil {
					return fmt.Errorf("snapshot database: %w", err)
				}
				entries[archiveDBName] = snap
			}
			if _, err := os.Stat(cfgPath); err == nil {
				entries[archiveConfigName] = cfgPath
			}
			if cfg.Relay.PersonaFile != "" {
				if _, err := os.Stat(cfg.Relay.PersonaFile); err == nil {
					entries[archivePersona] = cfg.Relay.PersonaFile
				}
			}

			if len(entries) == 0 {
				return fmt.Errorf("no files to backup (db: %s, config: %s)", cfg.Store.DBPath, cfgPath)
			}

			if err := createTarGz(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(entries))
			for name, src := range entries {
				info, _ := os.Stat(src)
				size := int64(0)
				if info != nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", name, humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.relaybot/backups/relaybot-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore Relaybot data from a backup archive",
		Long: `Restores the SQLite database, configuration and persona files from a
.tar.gz archive created by 'relaybot backup'. Stop 'relaybot serve' first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath := args[0]
			cfgPath := resolveConfigPath()
			cfg, _, err := config.LoadOrDefaults(cfgPath)
			if err != nil {
				// A broken config is a reason to restore, not to refuse.
				cfg = config.Defaults()
				cfg.Store.DBPath = config.ExpandPath(cfg.Store.DBPath)
			}
			targets := restoreTargets{
				DBPath:      cfg.Store.DBPath,
				ConfigPath:  cfgPath,
				PersonaPath: cfg.Relay.PersonaFile,
			}

			if !force {
				existing := false
				for _, p := range []string{targets.DBPath, targets.ConfigPath} {
					if _, err := os.Stat(p); err == nil {
						existing = true
					}
				}
				if existing {
					fmt.Printf("WARNING: This will overwrite existing data.\n")
					fmt.Printf("  Database: %s\n", targets.DBPath)
					fmt.Printf("  Config:   %s\n", targets.ConfigPath)
					fmt.Printf("Use --force to skip this warning.\n")
					return fmt.Errorf("restore aborted (use --force to proceed)")
				}
			}

			restored, err := extractTarGz(inputPath, targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", inputPath)
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// restoreTargets maps archive entries back to their locations on disk.
type restoreTargets struct {
	DBPath      string
	ConfigPath  string
	PersonaPath string
}

func (t restoreTargets) pathFor(name string) (string, bool) {
	switch name {
	case archiveDBName:
		return t.DBPath, true
	case archiveConfigName:
		return t.ConfigPath, true
	case archivePersona:
		if t.PersonaPath == "" {
			return filepath.Join(filepath.Dir(t.ConfigPath), archivePersona), true
		}
		return t.PersonaPath, true
	default:
		return "", false
	}
}

// createTarGz writes entries (archive name → source path) to a .tar.gz.
func createTarGz(outputPath string, entries map[string]string) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for name, src := range entries {
		if err := addFileToTar(tarWriter, name, src); err != nil {
			return fmt.Errorf("add %s: %w", src, err)
		}
	}

	return nil
}

func addFileToTar(tw *tar.Writer, name, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz restores the known entries of a backup archive. Unknown
// entries are skipped, and stale WAL files next to the database are removed
// so SQLite does not replay them over the restored file.
func extractTarGz(archivePath string, targets restoreTargets) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		baseName := filepath.Base(header.Name)
		targetPath, ok := targets.pathFor(baseName)
		if !ok || strings.Contains(header.Name, "..") {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}
		if baseName == archiveDBName {
			for _, suffix := range []string{"-wal", "-shm"} {
				os.Remove(targetPath + suffix)
			}
		}

		outFile, err := os.Create(targetPath)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", targetPath, err)
		}

		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", targetPath, err)
		}
		outFile.Close()

		restored = append(restored, targetPath)
	}

	return restored, nil
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
