package bus

import (
	"errors"

	"github.com/nexus-edge/serial-driver/internal/domain"
	"github.com/nexus-edge/serial-driver/internal/metrics"
	"github.com/nexus-edge/serial-driver/internal/rtu"
	"github.com/nexus-edge/serial-driver/internal/transport"
	"github.com/rs/zerolog"
)

// maxSplitDepth bounds the split-on-permanent-error recursion: a query is
// halved at most once, and a second rejection is final.
const maxSplitDepth = 1

// Executor drives a single request/response round on a port. It is
// stateless per call; the query carries all transaction state.
type Executor struct {
	logger  zerolog.Logger
	metrics *metrics.Registry
}

// NewExecutor creates an executor. metrics may be nil.
func NewExecutor(logger zerolog.Logger, m *metrics.Registry) *Executor {
	return &Executor{
		logger:  logger.With().Str("component", "executor").Logger(),
		metrics: m,
	}
}

// Execute performs one transaction for the query and applies the outcome
// to the covered registers. The returned error is non-nil only for fatal
// transport failures that require reopening the port; every protocol-level
// outcome is expressed through the returned status.
func (e *Executor) Execute(port transport.Port, q *Query) (domain.QueryStatus, error) {
	q.reset()
	return e.execute(port, q, 0)
}

func (e *Executor) execute(port transport.Port, q *Query, depth int) (domain.QueryStatus, error) {
	cfg := q.Session().Config()

	if cfg.GuardInterval > 0 {
		port.Sleep(cfg.GuardInterval)
	}

	request, expected, err := buildRequest(q)
	if err != nil {
		// Client-side validation failure: the request would be rejected
		// by any compliant device, so never send it.
		e.logger.Error().Err(err).Str("query", q.Describe()).Msg("Request rejected client-side")
		q.setStatus(domain.StatusPermanentError)
		return domain.StatusPermanentError, nil
	}

	e.logger.Debug().Str("query", q.Describe()).Msg("Executing")

	if err := port.WriteBytes(request); err != nil {
		q.setStatus(domain.StatusTransientError)
		return domain.StatusTransientError, err
	}

	timeout := cfg.FrameTimeout
	if timeout <= 0 {
		timeout = rtu.DefaultResponseTimeout
	}
	buf := make([]byte, rtu.MaxADUSize)
	n, err := port.ReadFrame(buf, timeout, transport.FrameComplete(rtu.FrameComplete(expected)))
	if err != nil {
		if errors.Is(err, transport.ErrReadTimeout) {
			e.logger.Warn().Str("query", q.Describe()).Msg("Response timeout")
			e.recordFrameError("timeout")
			q.setStatus(domain.StatusTransientError)
			return domain.StatusTransientError, nil
		}
		q.setStatus(domain.StatusTransientError)
		return domain.StatusTransientError, err
	}

	payload, exception, perr := rtu.ParseResponse(request, buf[:n])
	if perr != nil {
		return e.rejectFrame(port, q, perr), nil
	}

	if exception != 0 {
		return e.handleException(port, q, exception, depth)
	}

	if q.Operation() == domain.OpRead {
		if err := q.finalizeRead(payload); err != nil {
			e.logger.Warn().Err(err).Str("query", q.Describe()).Msg("Malformed read payload")
			e.recordFrameError("payload")
			q.setStatus(domain.StatusUnknownError)
			return domain.StatusUnknownError, nil
		}
	} else {
		q.finalizeWrite()
	}

	return domain.StatusOK, nil
}

// rejectFrame classifies a parse failure. Noise-shaped failures trigger a
// line resynchronization; a well-formed frame from the wrong transaction
// is merely transient.
func (e *Executor) rejectFrame(port transport.Port, q *Query, perr error) domain.QueryStatus {
	switch {
	case errors.Is(perr, rtu.ErrCRCMismatch), errors.Is(perr, rtu.ErrShortFrame), errors.Is(perr, rtu.ErrBadByteCount):
		e.logger.Warn().Err(perr).Str("query", q.Describe()).Msg("Rejected response frame")
		e.recordFrameError("crc")
		if err := port.SkipNoise(); err != nil {
			e.logger.Warn().Err(err).Msg("Noise skip failed")
		}
		q.setStatus(domain.StatusUnknownError)
		return domain.StatusUnknownError
	default:
		e.logger.Warn().Err(perr).Str("query", q.Describe()).Msg("Mismatched response")
		e.recordFrameError("mismatch")
		q.setStatus(domain.StatusTransientError)
		return domain.StatusTransientError
	}
}

// handleException maps a device exception onto the query and, for address
// rejections on holey multi-register queries, retries once in halves.
func (e *Executor) handleException(port transport.Port, q *Query, code byte, depth int) (domain.QueryStatus, error) {
	status, splitCandidate := rtu.StatusFromException(code)
	q.markException(status, splitCandidate)

	e.logger.Warn().
		Str("query", q.Describe()).
		Str("exception", rtu.ExceptionMessage(code)).
		Stringer("status", status).
		Msg("Device exception")

	if q.Splittable() && depth < maxSplitDepth {
		left, right, ok := q.Split()
		if ok {
			e.logger.Info().Str("query", q.Describe()).Msg("Splitting query")
			if e.metrics != nil {
				e.metrics.QuerySplits.Inc()
			}
			if _, err := e.execute(port, left, depth+1); err != nil {
				return status, err
			}
			if _, err := e.execute(port, right, depth+1); err != nil {
				return status, err
			}
		}
	}
	return status, nil
}

// buildRequest frames the query into request bytes and computes the
// expected response length.
func buildRequest(q *Query) (request []byte, expectedResponse int, err error) {
	cfg := q.Session().Config()
	function, err := rtu.FunctionFor(q.Kind(), q.Operation(), q.packed())
	if err != nil {
		return nil, 0, err
	}

	if q.Operation() == domain.OpRead {
		req, err := rtu.ReadRequest(cfg.SlaveID, function, q.Start(), q.Count())
		if err != nil {
			return nil, 0, err
		}
		return req, rtu.ReadResponseSize(function, q.Count()), nil
	}

	switch function {
	case rtu.FuncWriteSingleCoil:
		req := rtu.SingleWriteRequest(cfg.SlaveID, function, q.Start(), rtu.CoilValue(q.writeRaw != 0))
		return req, rtu.WriteResponseSize, nil
	case rtu.FuncWriteSingleRegister:
		req := rtu.SingleWriteRequest(cfg.SlaveID, function, q.Start(), uint16(q.writeRaw))
		return req, rtu.WriteResponseSize, nil
	default:
		req, err := rtu.MultiWriteRequest(cfg.SlaveID, function, q.Start(), q.Count(), q.writeBytes())
		if err != nil {
			return nil, 0, err
		}
		return req, rtu.WriteResponseSize, nil
	}
}

func (e *Executor) recordFrameError(kind string) {
	if e.metrics != nil {
		e.metrics.RecordFrameError(kind)
	}
}
