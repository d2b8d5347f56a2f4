package server

import (
	"net/http"

	"github.com/gofiber/fiber/v3"
)

// AppTransport 是直接调用 fiber 应用的 http.RoundTripper，不经过网络监听。
// remote.Client 通过它在进程内与开发服务端通信。
type AppTransport struct {
	App *fiber.App
}

// RoundTrip implements http.RoundTripper.
func (t AppTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.App.Test(req)
}
