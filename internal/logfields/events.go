package logfields

import "go.uber.org/zap"

func Event(val string) zap.Field {
	return zap.String("event", val)
}

func Step(val string) zap.Field {
	return zap.String("sync.step", val)
}

func State(val string) zap.Field {
	return zap.String("sync.state", val)
}

func RunID(val int64) zap.Field {
	return zap.Int64("github.run_id", val)
}
