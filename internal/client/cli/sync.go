package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/client/syncer"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
)

func describeCycle(s syncer.Summary) string {
	switch {
	case s.Skipped:
		return "skipped: signed out or server unreachable"
	case s.Paused:
		return fmt.Sprintf("paused: server rejected the access token after %d synced", s.ProcessedCount)
	}
	parts := []string{fmt.Sprintf("%d synced", s.ProcessedCount)}
	if s.FailedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.FailedCount))
	}
	if s.DeadLetters > 0 {
		parts = append(parts, fmt.Sprintf("%d need attention", s.DeadLetters))
	}
	if s.Pulled.Applied > 0 || s.Pulled.Deleted > 0 {
		parts = append(parts, fmt.Sprintf("%d downloaded, %d removed", s.Pulled.Applied, s.Pulled.Deleted))
	}
	return strings.Join(parts, ", ")
}

// Sync runs one cycle now and waits for it.
func (a *App) Sync(ctx context.Context) error {
	s := a.syncer.RunCycle(ctx, syncer.TriggerManual)
	a.printf("Sync %s (%s)\n", describeCycle(s), s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	for _, err := range s.Errors {
		a.printf("  %v\n", err)
	}
	return nil
}

// Resync drops the pull watermarks and runs a cycle, which downloads every
// record of the signed-in owner again.
func (a *App) Resync(ctx context.Context) error {
	n, err := a.manager.ResetPull(ctx)
	if err != nil {
		return err
	}
	a.printf("Cleared %d pull watermarks\n", n)
	return a.Sync(ctx)
}

func (a *App) Status(ctx context.Context) error {
	pending, err := a.manager.PendingWrites(ctx)
	if err != nil {
		return err
	}
	issues, err := a.manager.SyncIssues(ctx)
	if err != nil {
		return err
	}
	owner := a.tokens.CurrentOwnerScope()
	if owner == "" {
		owner = "-"
	}
	a.printf("owner: %s\nonline: %t\nsync: %s\npending: %d\nissues: %d\n",
		owner, a.conn.Online(), a.syncer.State(), pending, issues)
	if a.usage != nil {
		used, err := a.usage.UsedBytes(ctx)
		if err != nil {
			return err
		}
		if a.config != nil && a.config.LocalQuotaBytes > 0 {
			a.printf("local: %d of %d bytes\n", used, a.config.LocalQuotaBytes)
		} else {
			a.printf("local: %d bytes\n", used)
		}
	}
	return nil
}

// Network reports the device network as available ("on") or gone ("off").
// Going off takes the client offline without waiting for a failed ping.
func (a *App) Network(ctx context.Context, state string) error {
	var ok bool
	switch state {
	case "on":
		ok = true
	case "off":
	default:
		return fmt.Errorf("%w: network state must be on or off, got %q", common.ErrValidation, state)
	}
	a.conn.SetNetworkAvailable(ok)
	a.logger.Debug(ctx, "network availability set", "available", ok)
	a.printf("Network %s\n", state)
	return nil
}

// Issues lists dead-lettered writes. They stay until retried or dismissed.
func (a *App) Issues(ctx context.Context) error {
	ops, err := a.issues.DeadLetters(ctx)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		a.printf("No sync issues\n")
		return nil
	}
	for _, op := range ops {
		a.printf("%s  %s %s %s  after %d attempts: %s\n",
			op.OperationID, op.Action, op.EntityKind, op.EntityID, op.RetryCount, op.LastError)
	}
	return nil
}

func (a *App) Retry(ctx context.Context, id string) error {
	if err := a.issues.Requeue(ctx, id); err != nil {
		return err
	}
	a.printf("Requeued %s\n", id)
	return nil
}

// Dismiss gives up on a dead-lettered write; the record takes the server's
// copy again.
func (a *App) Dismiss(ctx context.Context, id string) error {
	if err := a.manager.DismissIssue(ctx, id); err != nil {
		return err
	}
	a.printf("Dismissed %s\n", id)
	return nil
}
