package worker

import (
	"io"

	gometrics "github.com/rcrowley/go-metrics"
)

var (
	candidatesPush     = gometrics.GetOrRegisterCounter("flip.candidates.push", nil)
	candidatesPoll     = gometrics.GetOrRegisterCounter("flip.candidates.poll", nil)
	candidatesFallback = gometrics.GetOrRegisterCounter("flip.candidates.fallback", nil)
	candidatesDropped  = gometrics.GetOrRegisterCounter("flip.candidates.dropped", nil)
	settledTotal       = gometrics.GetOrRegisterCounter("flip.settled", nil)
	settledForcedLoss  = gometrics.GetOrRegisterCounter("flip.settled.forced_loss", nil)
	submitFailures     = gometrics.GetOrRegisterCounter("flip.submit.failures", nil)
	readerErrors       = gometrics.GetOrRegisterCounter("chain.reader.errors", nil)
	readerLatency      = gometrics.GetOrRegisterTimer("chain.reader.latency", nil)
)

func countCandidate(src Source) {
	switch src {
	case SourcePush:
		candidatesPush.Inc(1)
	case SourcePoll:
		candidatesPoll.Inc(1)
	case SourceFallback:
		candidatesFallback.Inc(1)
	}
}

// WriteMetrics dumps the default registry as JSON.
func WriteMetrics(w io.Writer) {
	gometrics.WriteJSONOnce(gometrics.DefaultRegistry, w)
}
