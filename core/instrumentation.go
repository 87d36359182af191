package orchestration

import (
	"github.com/koscakluka/ema-client/core/events"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const scopeName = "github.com/koscakluka/ema-client/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

type sessionMetrics struct {
	eventsDecoded     metric.Int64Counter
	decodeFailures    metric.Int64Counter
	segmentsPlayed    metric.Int64Counter
	playbackFailures  metric.Int64Counter
	synthesisRequests metric.Int64Counter
}

func newSessionMetrics(m metric.Meter) (sessionMetrics, error) {
	var met sessionMetrics
	var err error

	if met.eventsDecoded, err = m.Int64Counter("ema_client.stream.events_decoded",
		metric.WithDescription("Stream events decoded from the agent service."),
	); err != nil {
		return sessionMetrics{}, err
	}
	if met.decodeFailures, err = m.Int64Counter("ema_client.stream.decode_failures",
		metric.WithDescription("Stream messages that could not be decoded."),
	); err != nil {
		return sessionMetrics{}, err
	}
	if met.segmentsPlayed, err = m.Int64Counter("ema_client.playback.segments_played",
		metric.WithDescription("Audio segments played to completion."),
	); err != nil {
		return sessionMetrics{}, err
	}
	if met.playbackFailures, err = m.Int64Counter("ema_client.playback.failures",
		metric.WithDescription("Audio segments that failed to play."),
	); err != nil {
		return sessionMetrics{}, err
	}
	if met.synthesisRequests, err = m.Int64Counter("ema_client.synthesis.requests",
		metric.WithDescription("Speech synthesis requests issued by the client."),
	); err != nil {
		return sessionMetrics{}, err
	}

	return met, nil
}

func noopSessionMetrics() sessionMetrics {
	counter := noop.Int64Counter{}
	return sessionMetrics{
		eventsDecoded:     counter,
		decodeFailures:    counter,
		segmentsPlayed:    counter,
		playbackFailures:  counter,
		synthesisRequests: counter,
	}
}

func metricKind(kind events.Kind) metric.AddOption {
	return metric.WithAttributes(attribute.String("event.kind", string(kind)))
}
