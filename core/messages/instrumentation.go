package messages

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-live/core/messages"

var logger = otelslog.NewLogger(scopeName)
