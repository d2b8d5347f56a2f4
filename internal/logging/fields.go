package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ResourceFields 提供 namespace/name 字段，供 Entry 与缓存日志复用。
func ResourceFields(namespace, name string) logrus.Fields {
	return logrus.Fields{
		"namespace": namespace,
		"name":      name,
	}
}

// RequestFields 描述一次远端请求，request_id 与服务端日志对应。
func RequestFields(method, address, requestID string) logrus.Fields {
	return logrus.Fields{
		"method":     method,
		"address":    address,
		"request_id": requestID,
	}
}
