package config

import "testing"

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
UpstreamTimeout = "boom"

[Origin]
URL = "https://app.example.com"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsSecondsDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
UpstreamTimeout = 45

[Origin]
URL = "https://app.example.com"
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if got := loaded.Global.UpstreamTimeout.DurationValue().Seconds(); got != 45 {
		t.Fatalf("纯数字应按秒解析，得到 %v", got)
	}
}

func TestLoadDiagnosticsActivateToken(t *testing.T) {
	cfg := `
StoragePath = "./data"

[Origin]
URL = "https://app.example.com"

[Diagnostics]
ActivateToken = "  s3cret  "
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Diagnostics.ActivateToken != "s3cret" || !loaded.Diagnostics.ActivateEnabled() {
		t.Fatalf("ActivateToken 应去除空白并启用接口，得到 %q", loaded.Diagnostics.ActivateToken)
	}
}

func TestLoadDiagnosticsActivateDisabledByDefault(t *testing.T) {
	loaded, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Diagnostics.ActivateEnabled() {
		t.Fatalf("未配置 ActivateToken 时不应启用 activate 接口")
	}
}
