package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-dialog/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	bargeInCounter, _            = meter.Int64Counter("dialog.barge_ins", metric.WithDescription("Times the user interrupted audible output"))
	turnCounter, _               = meter.Int64Counter("dialog.turns", metric.WithDescription("Turn requests by outcome"))
	recognitionRestartCounter, _ = meter.Int64Counter("dialog.recognition_restarts", metric.WithDescription("Recognition sessions resumed after the service ended them"))
)
