package service

import (
	"github.com/turmony/douBao/internal/config"
	"github.com/turmony/douBao/internal/pkg/notify"
	"github.com/turmony/douBao/internal/pkg/storage"
)

// Setup 按配置装配各个服务依赖的存储、分析客户端和推送通道
func Setup(cfg *config.Config, store storage.Store, client Analyzer, notifier notify.Notifier) {
	Upload.store = store
	Upload.maxSize = cfg.Storage.MaxImageSize
	Upload.uploadTTL = cfg.Storage.UploadTTL
	Upload.downloadTTL = cfg.Storage.DownloadTTL

	Analysis.client = client
	Analysis.store = store
	Analysis.stream = cfg.Ark.Stream
	Analysis.inlineImage = cfg.Ark.InlineImage
	Analysis.timeout = cfg.Ark.Timeout
	Analysis.streamTimeout = cfg.Ark.StreamTimeout
	Analysis.partialInterval = cfg.Ark.PartialInterval
	Analysis.downloadTTL = cfg.Storage.DownloadTTL

	Cron.interval = cfg.Binding.SweepInterval

	if notifier != nil {
		Session.SetNotifier(notifier)
	}
}
