package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedBackends = map[string]struct{}{
	BackendFS:     {},
	BackendSQLite: {},
}

var supportedCredentials = map[string]struct{}{
	CredentialsOmit:       {},
	CredentialsSameOrigin: {},
	CredentialsInclude:    {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if err := validateOriginURL(c.Origin.URL); err != nil {
		return fmt.Errorf("%s: %w", sectionField("Origin", "URL"), err)
	}
	if c.Origin.HasProxy() {
		if err := validateOriginURL(c.Origin.Proxy); err != nil {
			return fmt.Errorf("%s: %w", sectionField("Origin", "Proxy"), err)
		}
	}
	if _, ok := supportedCredentials[c.Origin.Credentials]; !ok {
		return newFieldError(sectionField("Origin", "Credentials"), "仅支持 omit/same-origin/include")
	}

	cache := c.Cache
	if strings.TrimSpace(cache.Name) == "" {
		return newFieldError(sectionField("Cache", "Name"), "不能为空")
	}
	if strings.ContainsAny(cache.Name, "/\\") {
		return newFieldError(sectionField("Cache", "Name"), "不允许包含路径分隔符")
	}
	if _, ok := supportedBackends[cache.Backend]; !ok {
		return newFieldError(sectionField("Cache", "Backend"), "仅支持 fs/sqlite")
	}
	if cache.PopulateConcurrency <= 0 {
		return newFieldError(sectionField("Cache", "PopulateConcurrency"), "必须大于 0")
	}

	return nil
}

func validateOriginURL(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return nil
}
