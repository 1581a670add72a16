package app

import (
	"context"
	"time"

	"multiposter/internal/config"
	"multiposter/internal/dispatch"
	"multiposter/internal/storage"
	logx "multiposter/pkg/logx"
)

func mapStorageConfig(res config.Resolved) (storage.Config, bool) {
	switch res.StorageDriver {
	case "", "none":
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:      res.StorageDriver,
		Path:        res.StoragePath,
		BusyTimeout: res.StorageBusyTimeout,
		Keep:        res.StorageKeep,
	}, true
}

// auditObserver writes every publish outcome to the store. It runs on the
// dispatch loop, so writes are bounded by a short timeout and failures are
// only logged.
type auditObserver struct {
	store storage.Store
	log   logx.Logger
}

func (o auditObserver) ObservePublish(ctx context.Context, out dispatch.Outcome) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	err := o.store.AppendPublish(wctx, storage.PublishRecord{
		At:          out.At,
		RunID:       out.RunID,
		Kind:        string(out.Kind),
		Credential:  out.Hint,
		OK:          out.OK,
		RemoteID:    out.RemoteID,
		FailureKind: out.FailureKind,
		Error:       out.Err,
		Summary:     out.Summary,
		TookMS:      out.Took.Milliseconds(),
	})
	if err != nil {
		o.log.Warn("audit write failed", logx.String("run_id", out.RunID), logx.Err(err))
	}
}
