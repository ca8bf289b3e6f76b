package logger

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type mongoSink struct {
	logger Logger
}

var _ options.LogSink = (*mongoSink)(nil)

func (m *mongoSink) fields(keysAndValues []interface{}) map[string]interface{} {
	metadata := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		metadata[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return metadata
}

// Info receives driver messages. The driver passes 0 for informational
// messages and higher values for debug detail.
func (m *mongoSink) Info(level int, message string, keysAndValues ...interface{}) {
	l := m.logger.With(m.fields(keysAndValues))
	if level <= 0 {
		l.Info("%s", message)
		return
	}
	l.Debug("%s", message)
}

func (m *mongoSink) Error(err error, message string, keysAndValues ...interface{}) {
	m.logger.With(m.fields(keysAndValues)).Error("%s: %v", message, err)
}

// ToMongoSink returns a driver log sink that forwards to the provided logger.
func ToMongoSink(logger Logger) options.LogSink {
	return &mongoSink{logger: logger.WithPrefix("[mongo-driver]")}
}
