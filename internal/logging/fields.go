package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供缓存名、请求方法/路径与命中状态字段，供 fetch 日志复用。
func RequestFields(cacheName, method, path string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"cache":     cacheName,
		"method":    method,
		"path":      path,
		"cache_hit": cacheHit,
	}
}

// ActivationFields 描述一次 activate 生命周期事件。
func ActivationFields(cacheName, digest string, resources int) logrus.Fields {
	return logrus.Fields{
		"action":    "activate",
		"cache":     cacheName,
		"digest":    digest,
		"resources": resources,
	}
}
