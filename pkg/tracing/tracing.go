package tracing

import (
	"context"
	"io"
	"net"
	"strconv"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
)

type Config struct {
	ServiceName string
	// AgentHost пустой — трейсинг выключен.
	AgentHost string
	AgentPort int
	// SampleRate: 1 пишет все сигналы, 0 берёт дефолт 1.
	SampleRate float64
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Init ставит глобальный трейсер. Возвращённый closer сбрасывает буфер спанов.
func Init(conf Config) (io.Closer, error) {
	if conf.AgentHost == "" {
		opentracing.SetGlobalTracer(opentracing.NoopTracer{})
		return nopCloser{}, nil
	}

	rate := conf.SampleRate
	sampler := &jaegercfg.SamplerConfig{Type: "const", Param: 1}
	if rate > 0 && rate < 1 {
		sampler = &jaegercfg.SamplerConfig{Type: "probabilistic", Param: rate}
	}

	tracer, closer, err := (&jaegercfg.Configuration{
		ServiceName: conf.ServiceName,
		Sampler:     sampler,
		Reporter: &jaegercfg.ReporterConfig{
			LocalAgentHostPort: net.JoinHostPort(conf.AgentHost, strconv.Itoa(conf.AgentPort)),
		},
	}).NewTracer(jaegercfg.Metrics(metrics.NullFactory))
	if err != nil {
		return nil, err
	}

	opentracing.SetGlobalTracer(tracer)
	return closer, nil
}

// StartSpan открывает дочерний спан от глобального трейсера и вешает теги.
func StartSpan(ctx context.Context, operation string, tags ...opentracing.Tag) (opentracing.Span, context.Context) {
	opts := make([]opentracing.StartSpanOption, 0, len(tags))
	for _, t := range tags {
		opts = append(opts, t)
	}
	return opentracing.StartSpanFromContext(ctx, operation, opts...)
}

// Finish закрывает спан, помечая ошибку тегом.
func Finish(span opentracing.Span, err error) {
	if err != nil {
		ext.Error.Set(span, true)
		span.LogKV("error", err.Error())
	}
	span.Finish()
}
