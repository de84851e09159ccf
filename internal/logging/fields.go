package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ItemFields 提供条目 ID/来源/状态字段，供协调器与失效检查日志复用。
func ItemFields(action string, itemID uint64, source string, condition int) logrus.Fields {
	return logrus.Fields{
		"action":    action,
		"item_id":   itemID,
		"source":    source,
		"condition": condition,
	}
}

// JobFields 记录抓取任务的关键属性，便于追踪重试与更新来源。
func JobFields(jobID string, itemID uint64, attempts int, updating bool) logrus.Fields {
	return logrus.Fields{
		"action":   "fetch_job",
		"job_id":   jobID,
		"item_id":  itemID,
		"attempts": attempts,
		"updating": updating,
	}
}

// RequestFields 提供 HTTP 请求的公共字段。
func RequestFields(requestID, method, path string, status int) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
	}
}
