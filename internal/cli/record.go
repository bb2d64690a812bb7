package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/models"
	"github.com/medvied/mze/internal/recordstore"
	"github.com/medvied/mze/internal/remote"
	"github.com/spf13/cobra"
)

// recordBinding is what the record commands need from a record server or
// a local record directory.
type recordBinding interface {
	Put(ctx context.Context, record *uuid.UUID, body io.Reader) (models.RecordRef, error)
	Get(ctx context.Context, record uuid.UUID, version *uuid.UUID) (io.ReadCloser, error)
	List(ctx context.Context, q models.ListQuery) (uuid.UUID, models.Listing, error)
}

// localRecords serves the record commands from a directory. It has no
// instance, so references carry uuid.Nil.
type localRecords struct {
	store *recordstore.Store
}

func (l localRecords) Put(ctx context.Context, record *uuid.UUID, body io.Reader) (models.RecordRef, error) {
	r := uuid.New()
	if record != nil {
		r = *record
	}
	v, err := l.store.Put(ctx, r, body)
	if err != nil {
		return models.RecordRef{}, err
	}
	return models.RecordRef{Record: r, Version: v.ID}, nil
}

func (l localRecords) Get(ctx context.Context, record uuid.UUID, version *uuid.UUID) (io.ReadCloser, error) {
	f, _, err := l.store.Open(ctx, record, version)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (l localRecords) List(ctx context.Context, q models.ListQuery) (uuid.UUID, models.Listing, error) {
	listing, err := l.store.List(ctx, q)
	return uuid.Nil, listing, err
}

func openRecords(serverURL string) (recordBinding, error) {
	if isRemoteURL(serverURL) {
		return remote.NewRecordClient(serverURL), nil
	}
	if dir, ok := strings.CutPrefix(serverURL, "file:"); ok && dir != "" {
		store, err := recordstore.New(dir)
		if err != nil {
			return nil, err
		}
		return localRecords{store: store}, nil
	}
	return nil, fmt.Errorf("%w: record commands need an http(s) or file: url, got %q", blobstore.ErrConfig, serverURL)
}

type recordFlags struct {
	record  string
	version string
}

func (f *recordFlags) parse() (record, version *uuid.UUID, all bool, err error) {
	if f.record != "" {
		r, err := models.ParseUUID(f.record)
		if err != nil {
			return nil, nil, false, err
		}
		record = &r
	}
	switch f.version {
	case "":
	case "all":
		all = true
	default:
		v, err := models.ParseUUID(f.version)
		if err != nil {
			return nil, nil, false, err
		}
		version = &v
	}
	return record, version, all, nil
}

func newRecordCmd(a *app) *cobra.Command {
	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Work with versioned records",
		Long: `Versioned records are append-only: every put adds a new version numbered
after the previous one. --server-url names a record server or a local
directory (file:<dir>).`,
	}

	var flags recordFlags
	recordCmd.PersistentFlags().StringVar(&flags.record, "record", "", "Record id")
	recordCmd.PersistentFlags().StringVar(&flags.version, "version", "", "Version id, or all for list")

	putCmd := &cobra.Command{
		Use:   "put",
		Short: "Add a version with the content of --filename-in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			record, version, all, err := flags.parse()
			if err != nil {
				return err
			}
			if version != nil || all {
				return usageErrorf("record put does not take --version")
			}
			rb, err := openRecords(a.serverURL)
			if err != nil {
				return err
			}
			in := a.stdin
			if a.filenameIn != "-" {
				f, err := os.Open(a.filenameIn)
				if err != nil {
					return fmt.Errorf("%w: input file: %v", blobstore.ErrValidation, err)
				}
				defer f.Close()
				in = f
			}
			ref, err := rb.Put(cmd.Context(), record, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s %s\n", ref.Record, ref.Version)
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Write a version of --record to --filename-out, the latest by default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			record, version, all, err := flags.parse()
			if err != nil {
				return err
			}
			if record == nil {
				return usageErrorf("record get requires --record")
			}
			if all {
				return usageErrorf("record get takes a single --version")
			}
			rb, err := openRecords(a.serverURL)
			if err != nil {
				return err
			}
			body, err := rb.Get(cmd.Context(), *record, version)
			if err != nil {
				return err
			}
			defer body.Close()
			if a.filenameOut == "-" {
				_, err = io.Copy(a.stdout, body)
				return err
			}
			b, err := io.ReadAll(body)
			if err != nil {
				return fmt.Errorf("read record: %w", err)
			}
			return models.InlineData(b).WriteFile(a.filenameOut)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List records and versions",
		Long: `List records and versions.

  (no flags)               every record, without versions
  --version all            every record with all versions
  --record R               the latest version of R
  --record R --version all all versions of R
  --record R --version V   V if R has it`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			record, version, all, err := flags.parse()
			if err != nil {
				return err
			}
			rb, err := openRecords(a.serverURL)
			if err != nil {
				return err
			}
			_, listing, err := rb.List(cmd.Context(), models.ListQuery{Record: record, Version: version, AllVersions: all})
			if err != nil {
				return err
			}
			return a.printJSON(listing)
		},
	}

	recordCmd.AddCommand(putCmd, getCmd, listCmd)
	return recordCmd
}
