package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/coachkeeper/internal/client/storage"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/filex"
)

var errNoBackups = errors.New("backups are not configured (set s3_bucket)")

func (a *App) Export(ctx context.Context, path string) error {
	p, err := a.manager.ExportAll(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrCodec, err)
	}
	if err := filex.WriteFileAtomic(path, data, 0o600); err != nil {
		return err
	}
	a.printf("Exported %d records to %s\n", countRecords(p), path)
	return nil
}

func (a *App) Import(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var p storage.ExportPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrCodec, path, err)
	}
	return a.importPayload(ctx, p)
}

func (a *App) importPayload(ctx context.Context, p storage.ExportPayload) error {
	sum, err := a.manager.ImportAll(ctx, p)
	if err != nil {
		return err
	}
	a.printf("Imported %d records (%d pending sync)\n", sum.Imported, sum.Pending)
	return nil
}

// backupOwner returns the signed-in owner; backups are kept per owner.
func (a *App) backupOwner() (string, error) {
	if a.backups == nil {
		return "", errNoBackups
	}
	owner := a.tokens.CurrentOwnerScope()
	if owner == "" {
		return "", fmt.Errorf("sign in first: %w", common.ErrAuth)
	}
	return owner, nil
}

func (a *App) Backup(ctx context.Context) error {
	owner, err := a.backupOwner()
	if err != nil {
		return err
	}
	p, err := a.manager.ExportAll(ctx)
	if err != nil {
		return err
	}
	key, err := a.backups.Upload(ctx, owner, p)
	if err != nil {
		return err
	}
	a.printf("Backed up %d records to %s\n", countRecords(p), key)
	return nil
}

func (a *App) Backups(ctx context.Context) error {
	owner, err := a.backupOwner()
	if err != nil {
		return err
	}
	objs, err := a.backups.List(ctx, owner)
	if err != nil {
		return err
	}
	if len(objs) == 0 {
		a.printf("No backups\n")
		return nil
	}
	for _, o := range objs {
		a.printf("%s  %s  %d bytes\n", o.Key, o.LastModified.Local().Format("2006-01-02 15:04"), o.Size)
	}
	return nil
}

func (a *App) Restore(ctx context.Context, key string) error {
	owner, err := a.backupOwner()
	if err != nil {
		return err
	}
	p, err := a.backups.Download(ctx, owner, key)
	if err != nil {
		return err
	}
	return a.importPayload(ctx, p)
}

func countRecords(p storage.ExportPayload) int {
	n := 0
	for _, docs := range p.Entities {
		n += len(docs)
	}
	return n
}
