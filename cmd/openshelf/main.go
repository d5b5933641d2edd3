// Command openshelf ingests EPUB and PDF files into a local library of
// section-addressable book packages and reads them back.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"openshelf/internal/bookreader"
	"openshelf/internal/config"
	"openshelf/internal/imgopt"
	"openshelf/internal/pipeline"
	"openshelf/internal/pkgstore"
	"openshelf/internal/publock"
	"openshelf/internal/upload"
	"openshelf/internal/util"
	"openshelf/pkg/domain"
	"openshelf/pkg/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app wires the services once per invocation, after flags are parsed.
type app struct {
	store    *pkgstore.Store
	reader   *bookreader.Service
	uploader *upload.Handler
}

func newApp(configPath string) (*app, error) {
	var cfg config.FileConfig
	if configPath == "" {
		if _, err := os.Stat(config.ConfigPath); errors.Is(err, fs.ErrNotExist) {
			cfg = config.Default()
		} else {
			loaded, err := config.Load(config.ConfigPath)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
	} else {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	util.InitLogger(cfg.LogLevel)

	store, err := pkgstore.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	var objects storage.ObjectStore
	switch cfg.UploadStorage {
	case "minio":
		objects, err = storage.NewMinioStore(
			cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey,
			cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, err
		}
	default:
		objects, err = storage.NewFileStore(cfg.UploadDir)
		if err != nil {
			return nil, err
		}
	}

	var lock publock.Locker
	if cfg.RedisAddr != "" {
		lock = publock.NewRedis(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}))
	}

	pipe := pipeline.New(store, lock, imgopt.New(cfg.ImageMaxWidth))
	return &app{
		store:    store,
		reader:   bookreader.New(store, nil),
		uploader: upload.New(objects, pipe, cfg.MaxUploadBytes),
	}, nil
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "openshelf",
		Short:         "Parse EPUB and PDF files into a readable book library",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	mkApp := func() (*app, error) { return newApp(configPath) }
	root.AddCommand(
		newIngestCmd(mkApp),
		newListCmd(mkApp),
		newInfoCmd(mkApp),
		newTOCCmd(mkApp),
		newSectionCmd(mkApp),
		newResourceCmd(mkApp),
		newDeleteCmd(mkApp),
	)
	return root
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newIngestCmd(newApp func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Parse one or more EPUB/PDF files into the library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			for _, path := range args {
				book, err := a.uploader.UploadFile(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (%d sections", book.ID, book.Title, book.SectionCount)
				if n := len(book.Warnings); n > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), ", %d warnings", n)
				}
				fmt.Fprintln(cmd.OutOrStdout(), ")")
			}
			return nil
		},
	}
}

func newListCmd(newApp func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List books in the library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			books, err := a.reader.List(cmd.Context(), "")
			if err != nil {
				return err
			}
			for _, book := range books {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  [%s]  %s\n", book.ID, book.Format, book.Title)
			}
			return nil
		},
	}
}

func newInfoCmd(newApp func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "info <book-id>",
		Short: "Show a book's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			book, err := a.reader.Book(cmd.Context(), "", args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, book)
		},
	}
}

func newTOCCmd(newApp func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "toc <book-id>",
		Short: "Show a book's table of contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			toc, err := a.reader.TOC(cmd.Context(), "", args[0])
			if err != nil {
				return err
			}
			printTOC(cmd, toc, 0)
			return nil
		},
	}
}

func printTOC(cmd *cobra.Command, nodes []domain.TOCNode, depth int) {
	for _, node := range nodes {
		target := "-"
		if node.SectionIndex >= 0 {
			target = "section:" + strconv.Itoa(node.SectionIndex)
			if node.Anchor != "" {
				target += "#" + node.Anchor
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s%s  (%s)\n",
			strings.Repeat("  ", depth), node.Title, target)
		printTOC(cmd, node.Children, depth+1)
	}
}

func newSectionCmd(newApp func() (*app, error)) *cobra.Command {
	var byID string
	cmd := &cobra.Command{
		Use:   "section <book-id> [index]",
		Short: "Print one section with its navigation pointers",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			var sec domain.Section
			var nav domain.SectionNav
			switch {
			case byID != "":
				sec, nav, err = a.reader.SectionByID(cmd.Context(), "", args[0], byID)
			case len(args) == 2:
				index, convErr := strconv.Atoi(args[1])
				if convErr != nil {
					return fmt.Errorf("invalid section index %q", args[1])
				}
				sec, nav, err = a.reader.Section(cmd.Context(), "", args[0], index)
			default:
				return errors.New("provide a section index or --id")
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, struct {
				Section domain.Section    `json:"section"`
				Nav     domain.SectionNav `json:"nav"`
			}{sec, nav})
		},
	}
	cmd.Flags().StringVar(&byID, "id", "", "address the section by its stable id")
	return cmd
}

func newResourceCmd(newApp func() (*app, error)) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "resource <book-id> <resource-id>",
		Short: "Fetch one resource's bytes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			res, data, err := a.reader.Resource(cmd.Context(), "", args[0], args[1])
			if err != nil {
				return err
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %d bytes)\n", out, res.MediaType, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the resource to a file")
	return cmd
}

func newDeleteCmd(newApp func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Remove a book from the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
			return nil
		},
	}
}
