package worker

import (
	"os"
	"strings"

	"vinochat/internal/logger"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("VINOCHAT_WORKER_DEBUG"), "1")

func debugLog(msg string, fields logger.Fields) {
	if workerDebugEnabled {
		logger.Debug("worker", msg, fields)
	}
}
