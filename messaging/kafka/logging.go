package kafka

import (
	"context"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/rainbow-me/platform-mdc/common/logger"
)

// ForwardLogs writes the client log events of a producer or consumer created with
// "go.logs.channel.enable" into log until events is closed or ctx is done.
// Levels follow syslog: 0-3 error, 4 warn, 5-6 info, 7 debug.
func ForwardLogs(ctx context.Context, events <-chan kafka.LogEvent, log *logger.Logger) {
	log = log.Named("librdkafka")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.Log(logLevel(e.Level), "[kafka] "+e.Message,
				logger.String("namespace", e.Name), logger.String("label", e.Tag))
		}
	}
}

func logLevel(syslog int) logger.Level {
	switch {
	case syslog <= 3:
		return logger.ErrorLevel
	case syslog == 4:
		return logger.WarnLevel
	case syslog == 7:
		return logger.DebugLevel
	default:
		return logger.InfoLevel
	}
}
