// Package bootstrap 按配置装配知识源并注册到 Registry。
package bootstrap

import (
	"fmt"

	fileadapter "runhub/internal/adapter/source/file"
	gitadapter "runhub/internal/adapter/source/git"
	webadapter "runhub/internal/adapter/source/web"
	wikiadapter "runhub/internal/adapter/source/wiki"
	"runhub/internal/platform/config"
	applog "runhub/internal/platform/log"
	"runhub/internal/source"
)

// RegisterSources 根据配置创建 adapter 并注册。
// 只创建 Enabled 的源；重名在 Register 阶段报错。
func RegisterSources(reg *source.Registry, cfg *config.SourcesConfig) error {
	for _, sc := range cfg.File {
		if !sc.Enabled {
			continue
		}
		a := fileadapter.New(fileadapter.Config{
			Name:         sc.Name,
			Roots:        sc.Roots,
			MaxFileBytes: sc.MaxFileBytes,
		})
		if err := reg.Register(a, sc.AdapterConfig); err != nil {
			return fmt.Errorf("register file source %q: %w", sc.Name, err)
		}
	}

	for _, sc := range cfg.Wiki {
		if !sc.Enabled {
			continue
		}
		a := wikiadapter.New(wikiadapter.Config{
			Name:     sc.Name,
			BaseURL:  sc.BaseURL,
			Username: sc.Username,
			Password: sc.Password,
			Space:    sc.Space,
		})
		if err := reg.Register(a, sc.AdapterConfig); err != nil {
			return fmt.Errorf("register wiki source %q: %w", sc.Name, err)
		}
	}

	for _, sc := range cfg.Git {
		if !sc.Enabled {
			continue
		}
		a := gitadapter.New(gitadapter.Config{
			Name:  sc.Name,
			Token: sc.Token,
			Repos: sc.Repos,
			Paths: sc.Paths,
		})
		if err := reg.Register(a, sc.AdapterConfig); err != nil {
			return fmt.Errorf("register git source %q: %w", sc.Name, err)
		}
	}

	for _, sc := range cfg.Web {
		if !sc.Enabled {
			continue
		}
		a := webadapter.New(webadapter.Config{
			Name:            sc.Name,
			URLs:            sc.URLs,
			RefreshSeconds:  sc.RefreshSeconds,
			MaxContentBytes: sc.MaxContentBytes,
		})
		if err := reg.Register(a, sc.AdapterConfig); err != nil {
			return fmt.Errorf("register web source %q: %w", sc.Name, err)
		}
	}

	prio := reg.Priorities()
	applog.Info("[Bootstrap] Sources registered", "count", len(prio))
	return nil
}
