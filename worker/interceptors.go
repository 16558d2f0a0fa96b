package worker

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const callTimeout = 5000 * time.Millisecond

// invoke runs one contract call under its own deadline and logs how it went.
func invoke(ctx context.Context, method string, call func(ctx context.Context) error) error {
	start := time.Now()
	_ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	err := call(_ctx)

	elapsed := time.Since(start)
	readerLatency.Update(elapsed)
	entry := log.WithFields(log.Fields{"method": method, "duration": elapsed})
	if err != nil {
		readerErrors.Inc(1)
		entry.WithError(err).Warn("contract call failed")
		return err
	}
	entry.Debug("invoked contract method")
	return nil
}
