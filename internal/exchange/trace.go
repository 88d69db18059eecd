package exchange

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"nexus_bot/internal/models"
	"nexus_bot/pkg/tracing"
)

// Trace открывает спан вокруг вызова биржи; вызвать done(err) по завершении.
func Trace(ctx context.Context, ex models.Exchange, op, symbol string) (context.Context, func(error)) {
	span, ctx := tracing.StartSpan(ctx, "exchange."+op,
		opentracing.Tag{Key: "exchange", Value: string(ex)},
		opentracing.Tag{Key: "symbol", Value: symbol},
	)
	return ctx, func(err error) { tracing.Finish(span, err) }
}
