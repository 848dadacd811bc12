package app

import (
	"context"
	"errors"
	"time"
)

// Prune 删除早于 opts.Before 的机会与告警记录。
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	if opts.Before.IsZero() {
		return errors.New("--before 不能为空")
	}
	before := opts.Before.UTC()
	if before.After(time.Now().UTC()) {
		return errors.New("--before 不能晚于当前时间")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	if store == nil {
		return errors.New("database.driver 未配置，无法清理")
	}

	if opts.DryRun {
		records, err := store.ListOpportunitiesBetween(ctx, time.Unix(0, 0).UTC(), before)
		if err != nil {
			return err
		}
		a.Logger.Warn().Int("opportunities", len(records)).Time("before", before).Msg("清理 dry-run：不会删除任何记录")
		return nil
	}

	opps, err := store.DeleteOpportunitiesBefore(ctx, before)
	if err != nil {
		return err
	}
	alerts, err := store.DeleteAlertsBefore(ctx, before)
	if err != nil {
		return err
	}

	remaining, err := store.CountOpportunities(ctx)
	if err != nil {
		return err
	}
	a.Logger.Info().Int64("opportunities", opps).Int64("alerts", alerts).Int64("remaining", remaining).Time("before", before).Msg("清理完成")
	return nil
}
