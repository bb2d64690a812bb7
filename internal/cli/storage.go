package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/medvied/mze/internal/blobstore"
	"github.com/medvied/mze/internal/models"
	"github.com/spf13/cobra"
)

// storageCommands are the storage operations, each also a subcommand.
var storageCommands = []string{
	"init", "fini", "create", "destroy", "fsck",
	"get", "put", "head", "catalog", "delete",
}

var storageShort = map[string]string{
	"init":    "Bind the engine to an existing store",
	"fini":    "Release the engine",
	"create":  "Create a new empty store",
	"destroy": "Remove an empty store",
	"fsck":    "Check the store for consistency",
	"get":     "Write the content of --blob-id to --filename-out",
	"put":     "Store the content of --filename-in",
	"head":    "Show the size of --blob-id",
	"catalog": "List every blob",
	"delete":  "Delete --blob-id",
}

func newStorageCmd(a *app, name string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: storageShort[name],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runCommands(cmd.Context(), []string{name})
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <command>...",
		Short: "Run several storage commands in order against one binding",
		Long: `Run several storage commands in order against one binding, for example:

  mze --server-url file:/tmp/blobs run create put catalog

Every command is checked before the first one runs.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCommands(cmd.Context(), args)
		},
	}
}

func isStorageCommand(name string) bool {
	for _, c := range storageCommands {
		if c == name {
			return true
		}
	}
	return false
}

// runCommands executes cmds against the binding named by --server-url. A
// local engine holds no state between processes, so unless the sequence
// starts with init or create it is bound implicitly, and it is always
// released at the end.
func (a *app) runCommands(ctx context.Context, cmds []string) (err error) {
	for _, c := range cmds {
		if !isStorageCommand(c) {
			return usageErrorf(fmt.Sprintf("unknown storage command %q", c))
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b, err := openBinding(a.serverURL)
	if err != nil {
		return err
	}
	if b.local {
		if cmds[0] != "init" && cmds[0] != "create" {
			cmds = append([]string{"init"}, cmds...)
		}
		defer func() {
			if ferr := b.store.Fini(ctx); ferr != nil && err == nil {
				err = ferr
			}
		}()
	}

	for _, c := range cmds {
		if err := a.runCommand(ctx, b, c); err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}
	}
	return nil
}

func (a *app) runCommand(ctx context.Context, b *binding, name string) error {
	green := color.New(color.FgGreen)
	switch name {
	case "init":
		cfg, err := engineConfig(a.initCfg, b.defaults)
		if err != nil {
			return err
		}
		return b.store.Init(ctx, cfg)
	case "create":
		cfg, err := engineConfig(a.createCfg, b.defaults)
		if err != nil {
			return err
		}
		if err := b.store.Create(ctx, cfg); err != nil {
			return err
		}
		green.Fprintln(a.stderr, "store created")
		return nil
	case "fini":
		return b.store.Fini(ctx)
	case "destroy":
		if err := b.store.Destroy(ctx); err != nil {
			return err
		}
		green.Fprintln(a.stderr, "store destroyed")
		return nil
	case "fsck":
		if err := b.store.Fsck(ctx); err != nil {
			return err
		}
		green.Fprintln(a.stderr, "no problems found")
		return nil
	case "get":
		return a.get(ctx, b.store)
	case "put":
		return a.put(ctx, b.store)
	case "head":
		return a.headOrDelete(ctx, b.store.Head)
	case "delete":
		return a.headOrDelete(ctx, b.store.Delete)
	case "catalog":
		catalog, err := b.store.Catalog(ctx)
		if err != nil {
			return err
		}
		return a.printJSON(catalog)
	}
	return usageErrorf(fmt.Sprintf("unknown storage command %q", name))
}

// requiredBlobID parses --blob-id.
func (a *app) requiredBlobID() (models.BlobID, error) {
	if a.blobID == "" {
		return models.BlobID{}, usageErrorf("--blob-id is required")
	}
	return models.ParseBlobID(a.blobID)
}

func (a *app) get(ctx context.Context, store blobstore.Storage) error {
	id, err := a.requiredBlobID()
	if err != nil {
		return err
	}
	got, err := store.Get(ctx, []models.BlobID{id})
	if err != nil {
		return err
	}
	if got[0] == nil {
		return fmt.Errorf("blob %s: %w", id, blobstore.ErrNotFound)
	}
	if a.filenameOut != "-" {
		return got[0].WriteFile(a.filenameOut)
	}
	r, err := got[0].Open()
	if err != nil {
		return err
	}
	defer r.Close()
	if _, err := io.Copy(a.stdout, r); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

func (a *app) put(ctx context.Context, store blobstore.Storage) error {
	entry := models.PutEntry{}
	if a.blobID != "" {
		id, err := models.ParseBlobID(a.blobID)
		if err != nil {
			return err
		}
		entry.ID = &id
	}
	if a.filenameIn == "-" {
		b, err := io.ReadAll(a.stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		entry.Data = models.InlineData(b)
	} else {
		if _, err := os.Stat(a.filenameIn); err != nil {
			return fmt.Errorf("%w: input file: %v", blobstore.ErrValidation, err)
		}
		entry.Data = models.FileData(a.filenameIn)
	}

	out, err := store.Put(ctx, []models.PutEntry{entry})
	if err != nil {
		return err
	}
	return a.printJSON(out[0])
}

func (a *app) headOrDelete(ctx context.Context, op func(context.Context, []models.BlobID) ([]*models.BlobInfo, error)) error {
	id, err := a.requiredBlobID()
	if err != nil {
		return err
	}
	infos, err := op(ctx, []models.BlobID{id})
	if err != nil {
		return err
	}
	if infos[0] == nil {
		return fmt.Errorf("blob %s: %w", id, blobstore.ErrNotFound)
	}
	return a.printJSON(models.IDInfo{ID: id, Info: infos[0]})
}

func (a *app) printJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(a.stdout, string(data))
	return err
}
