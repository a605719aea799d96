package playback

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-live/core/playback"

var logger = otelslog.NewLogger(scopeName)
